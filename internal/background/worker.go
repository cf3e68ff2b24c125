package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/fmjobs/fmjobs/internal/progress"
)

// ErrWorkerLimit is returned by Execute when no worker slot is available.
// The job is registered anyway, already finished with exit code 1.
var ErrWorkerLimit = errors.New("background worker limit reached")

// Routine is the body of a Task or Operation job. Errors are reported with
// ReportError(ctx, ...) and end up on the job, not as a return value.
type Routine func(ctx context.Context, p *progress.Info)

// Execute registers a worker job and starts routine on its own goroutine.
// tracked selects an Operation, which is shown on the job bar.
func (s *Supervisor) Execute(ctx context.Context, description, progressDescription string, total int, tracked bool, routine Routine) error {
	if routine == nil {
		return errors.New("background routine is nil")
	}
	if s.isClosed() {
		return ErrClosed
	}

	kind := KindTask
	if tracked {
		kind = KindOperation
	}
	j := newJob(kind, NoPID, description)
	// a Task routine gets a counter too, nobody looks at it
	var changed func(*progress.Info)
	if tracked {
		changed = s.deps.JobBar.Changed
	}
	p := progress.New(total, progressDescription, changed)
	if tracked {
		j.progress = p
	}

	s.registry.Add(j)
	if tracked {
		s.operations.Add(1)
		s.deps.JobBar.Add(j.progress)
	}

	attrs := []any{"job_id", j.id, "kind", kind, "command", description}
	if s.workers != nil && !s.workers.TryAcquire(1) {
		s.finishWorker(j, 1)
		slog.WarnContext(ctx, "background worker not started", append(attrs, "error", ErrWorkerLimit)...)
		return fmt.Errorf("starting %q: %w", description, ErrWorkerLimit)
	}

	slog.DebugContext(ctx, "starting background worker", attrs...)
	workerCtx := WithJob(WithReporter(context.WithoutCancel(ctx), s.reporter), j)
	go s.bootstrap(workerCtx, j, p, routine)
	return nil
}

// bootstrap runs routine with j as the current job and always finishes j
// with exit code 0; failures are reported through the job error.
func (s *Supervisor) bootstrap(ctx context.Context, j *Job, p *progress.Info, routine Routine) {
	defer func() {
		if s.workers != nil {
			s.workers.Release(1)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "background worker panicked", "job_id", j.id, "panic", r, "stack", string(debug.Stack()))
			j.appendError(fmt.Sprintf("%s: %v\n", j.command, r))
		}
		s.finishWorker(j, 0)
	}()
	routine(ctx, p)
}

func (s *Supervisor) finishWorker(j *Job, code int) {
	if !j.finish(code) {
		return
	}
	if j.kind == KindOperation {
		s.operations.Add(-1)
	}
}

// HasActiveTrackedJobs reports whether an Operation is still running.
func (s *Supervisor) HasActiveTrackedJobs() bool {
	return s.operations.Load() > 0
}
