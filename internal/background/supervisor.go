package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fmjobs/fmjobs/internal/model"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned when a job is started after Close.
var ErrClosed = errors.New("background supervisor closed")

const completionQueue = 64

// Supervisor owns the job registry and runs jobs of all three kinds.
type Supervisor struct {
	deps     Deps
	reporter Reporter
	registry *Registry
	runner   processRunner
	cancel   *Cancellation

	fastRun      bool
	drainTimeout time.Duration

	// process waiters deliver here, only Poll consumes
	completions chan completion
	workers     *semaphore.Weighted
	operations  atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

// Init performs the process-wide setup and returns a Supervisor ready to
// start jobs.
func Init(cfg model.Jobs, deps Deps) (*Supervisor, error) {
	if cfg.Shell == "" {
		cfg.Shell = model.DefaultShell
	}
	shell, err := exec.LookPath(cfg.Shell)
	if err != nil {
		return nil, fmt.Errorf("resolving shell %q: %w", cfg.Shell, err)
	}
	drain, grace, err := cfg.Durations()
	if err != nil {
		return nil, err
	}
	if cfg.MaxWorkers < 0 {
		return nil, fmt.Errorf("jobs.max_workers must not be negative, got %d", cfg.MaxWorkers)
	}

	deps = deps.withDefaults()
	s := &Supervisor{
		deps:     deps,
		reporter: NewReporter(deps.UI),
		registry: NewRegistry(),
		runner: processRunner{
			shell:       shell,
			exitGrace:   grace,
			maxErrBytes: cfg.MaxErrorBytes,
			terminator:  deps.Terminator,
		},
		cancel:       NewCancellation(),
		fastRun:      cfg.FastRun,
		drainTimeout: drain,
		completions:  make(chan completion, completionQueue),
		closed:       make(chan struct{}),
	}
	if cfg.MaxWorkers > 0 {
		s.workers = semaphore.NewWeighted(int64(cfg.MaxWorkers))
	}
	return s, nil
}

// StartCommand launches text as a fire-and-forget Command job. Its error
// output is shown by Poll unless skipErrors is set.
func (s *Supervisor) StartCommand(ctx context.Context, text string, skipErrors bool) error {
	if s.isClosed() {
		return ErrClosed
	}
	j, err := s.runner.spawnSupervised(ctx, text, func(j *Job) {
		j.skipErrors = skipErrors
		s.registry.Add(j)
	}, s.completions, s.closed)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "background command started", "job_id", j.id, "pid", j.pid, "command", text)
	return nil
}

// RunAndWait runs text and blocks until it exits. With cancellable set the
// foreground cancellation flag asks the child to terminate; the call still
// returns only after the child is reaped. A negative status means the
// command could not be started or waited for.
func (s *Supervisor) RunAndWait(ctx context.Context, text string, cancellable bool) (status int, cancelled bool) {
	return s.runner.waitStatus(ctx, text, s.cancel, cancellable)
}

// RunAndCollectErrors runs text, blocks until it exits and returns its
// exit code together with everything it wrote to stderr. The message is
// reported against the current job of ctx, or shown right away without one.
func (s *Supervisor) RunAndCollectErrors(ctx context.Context, text string, cancellable bool) (code int, message string) {
	return s.runner.collectErrors(ctx, text, s.cancel, cancellable, s.reporter)
}

// RunAndCapture starts text with both output streams handed to the caller.
// useShell selects the configured shell instead of /bin/sh.
func (s *Supervisor) RunAndCapture(ctx context.Context, text string, useShell bool) (*Capture, error) {
	return s.runner.capture(ctx, text, useShell)
}

// Jobs returns the current jobs, newest first. ErrFrozen and ErrDetached
// mean the registry is busy and the call should be repeated later.
func (s *Supervisor) Jobs() ([]Info, error) {
	if err := s.registry.Freeze(); err != nil {
		return nil, err
	}
	defer s.registry.Unfreeze()
	return s.registry.Snapshot()
}

// Cancellation is the foreground cancellation flag used by cancellable
// waits.
func (s *Supervisor) Cancellation() *Cancellation {
	return s.cancel
}

// ReportError routes an error to the current job of ctx or to the UI.
func (s *Supervisor) ReportError(ctx context.Context, title, text string) {
	s.reporter.ReportError(ctx, title, text)
}

// Close releases goroutines waiting to deliver a completion. Running jobs
// are not stopped and are not polled anymore.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

func (s *Supervisor) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
