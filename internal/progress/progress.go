// Package progress renders interactive progress for epoch passes.
package progress

import (
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Display shows the progress of one pass.
type Display interface {
	// Describe replaces the text shown next to the bar.
	Describe(desc string)
	Add(n int) error
	Close() error
}

// Factory creates a Display for a pass of total steps.
type Factory interface {
	New(total int, label string) Display
}

// Bars draws terminal progress bars. Unless Leave is set, a bar is cleared
// once its pass completes.
type Bars struct {
	Writer io.Writer
	Leave  bool
}

// New implements Factory.
func (b Bars) New(total int, label string) Display {
	if total <= 0 {
		return nop{}
	}
	w := b.Writer
	if w == nil {
		w = os.Stderr
	}
	opts := []progressbar.Option{
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(label),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(20),
	}
	if !b.Leave {
		opts = append(opts, progressbar.OptionClearOnFinish())
	}
	return &bar{pb: progressbar.NewOptions(total, opts...), label: label}
}

type bar struct {
	pb    *progressbar.ProgressBar
	label string
}

func (b *bar) Describe(desc string) {
	if b.label != "" {
		desc = b.label + " " + desc
	}
	b.pb.Describe(desc)
}

func (b *bar) Add(n int) error { return b.pb.Add(n) }

func (b *bar) Close() error { return b.pb.Finish() }

// Nop discards all progress.
type Nop struct{}

// New implements Factory.
func (Nop) New(int, string) Display { return nop{} }

type nop struct{}

func (nop) Describe(string) {}
func (nop) Add(int) error   { return nil }
func (nop) Close() error    { return nil }
