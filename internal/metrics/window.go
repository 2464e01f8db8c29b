package metrics

import "time"

// Window accumulates timing stats across multiple steps.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	steps   int
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
}

// Snapshot returns aggregated throughput and resets the window.
func (w *Window) Snapshot() Throughput {
	snap := Throughput{}
	total := w.data + w.compute
	if total > 0 {
		snap.SamplesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
	}

	w.samples = 0
	w.data = 0
	w.compute = 0
	w.steps = 0
	return snap
}

// Throughput represents loggable timing metrics.
type Throughput struct {
	SamplesPerSec float64
	AvgDataMS     float64
	AvgComputeMS  float64
}

// Stats exposes the throughput as a statistics record.
func (t Throughput) Stats() Stats {
	return Stats{
		"samples_per_sec": t.SamplesPerSec,
		"data_ms":         t.AvgDataMS,
		"compute_ms":      t.AvgComputeMS,
	}
}
