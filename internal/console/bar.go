package console

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/fmjobs/fmjobs/internal/progress"
	"github.com/mattn/go-isatty"
)

const barWidth = 30

// Bar is the job bar of a terminal. It keeps the progress of running
// Operation jobs and renders one line per job.
type Bar struct {
	mu      sync.Mutex
	out     io.Writer
	enabled bool
	model   bprogress.Model
	jobs    []*progress.Info
}

// NewBar returns a Bar drawing on out. Nothing is drawn unless out is a
// terminal or force is set.
func NewBar(out io.Writer, force bool) *Bar {
	return &Bar{
		out:     out,
		enabled: force || isTerminal(out),
		model: bprogress.New(
			bprogress.WithDefaultGradient(),
			bprogress.WithWidth(barWidth),
			bprogress.WithoutPercentage(),
		),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (b *Bar) Add(p *progress.Info) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs = append(b.jobs, p)
	b.drawLocked(p)
}

func (b *Bar) Remove(p *progress.Info) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs = slices.DeleteFunc(b.jobs, func(x *progress.Info) bool { return x == p })
}

// Changed redraws p after its description was replaced.
func (b *Bar) Changed(p *progress.Info) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drawLocked(p)
}

// Len is the number of jobs on the bar.
func (b *Bar) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs)
}

// Draw renders every job on the bar.
func (b *Bar) Draw() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.jobs {
		b.drawLocked(p)
	}
}

func (b *Bar) drawLocked(p *progress.Info) {
	if !b.enabled {
		return
	}
	_, _ = fmt.Fprintln(b.out, b.line(p.Snapshot()))
}

func (b *Bar) line(s progress.State) string {
	var sb strings.Builder
	sb.WriteString(s.Description)
	sb.WriteByte(' ')
	if s.Progress == progress.Unknown {
		sb.WriteString(strings.Repeat("?", barWidth))
	} else {
		sb.WriteString(b.model.ViewAs(float64(s.Progress) / 100))
	}
	if s.Total > 0 {
		fmt.Fprintf(&sb, " %d/%d", s.Done, s.Total)
	} else {
		fmt.Fprintf(&sb, " %d", s.Done)
	}
	return sb.String()
}
