// Package logsink persists statistics records reported by the training
// driver, keyed by a monotonic step index.
package logsink

import (
	"context"
	"errors"
	"sync"

	"k8s.io/klog/v2"

	"gradloop/internal/metrics"
)

// Sink accepts a statistics record at a step index.
type Sink interface {
	Report(ctx context.Context, stats metrics.Stats, index int) error
}

// Klog writes each record as one log line.
type Klog struct {
	Split string
	Level klog.Level
}

// Report implements Sink.
func (k Klog) Report(_ context.Context, stats metrics.Stats, index int) error {
	klog.V(k.Level).Infof("split=%s step=%d %s", k.Split, index, metrics.Format(stats, ""))
	return nil
}

// Record is one reported statistics record.
type Record struct {
	Index int
	Stats metrics.Stats
}

// Memory keeps every record in order. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

// Report implements Sink. The record is copied.
func (m *Memory) Report(_ context.Context, stats metrics.Stats, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, Record{Index: index, Stats: stats.Clone()})
	return nil
}

// Records returns a snapshot of the reported records.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Last returns the most recent record.
func (m *Memory) Last() (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return Record{}, false
	}
	return m.records[len(m.records)-1], true
}

// Multi reports to every sink and joins their errors.
type Multi []Sink

// Report implements Sink.
func (ms Multi) Report(ctx context.Context, stats metrics.Stats, index int) error {
	var errs []error
	for _, s := range ms {
		if err := s.Report(ctx, stats, index); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
