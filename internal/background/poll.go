package background

import (
	"context"
	"log/slog"
)

// PollStats describes what a single Poll did.
type PollStats struct {
	Walked     int
	Reaped     int
	Relaunched int
	// ShowStatus is set when a fast-run retry could not be rewritten and
	// the host should keep its status bar message.
	ShowStatus bool
}

// Poll is called periodically from the UI goroutine. It applies delivered
// process completions, shows buffered errors, retries fast-run commands and
// reaps finished jobs. A Poll made while another one walks the jobs, or
// while the registry is frozen, does nothing.
func (s *Supervisor) Poll(ctx context.Context) PollStats {
	var stats PollStats
	if err := s.registry.Freeze(); err != nil {
		return stats
	}
	s.applyCompletions(ctx)
	jobs, ok := s.registry.detach()
	s.registry.Unfreeze()
	if !ok {
		return stats
	}

	// jobs is private to this goroutine until reattached
	kept := make([]*Job, 0, len(jobs))
	var removed []*Job
	var reruns []string
	for _, j := range jobs {
		stats.Walked++
		// anything a worker reported before finishing is buffered by now
		running := j.Running()
		if s.inspect(ctx, j, running) {
			reruns = append(reruns, j.command)
		}
		if running {
			kept = append(kept, j)
			continue
		}
		s.reap(ctx, j)
		removed = append(removed, j)
		stats.Reaped++
	}

	s.registry.mu.Lock()
	s.registry.reattach(kept, removed)
	s.registry.mu.Unlock()

	for _, command := range reruns {
		rewritten, ok := s.deps.Rewriter.RewriteForRetry(command)
		if !ok {
			stats.ShowStatus = true
			continue
		}
		slog.DebugContext(ctx, "fast-run retry", "command", command, "rewritten", rewritten)
		if err := s.StartCommand(ctx, rewritten, false); err != nil {
			slog.ErrorContext(ctx, "fast-run retry failed", "command", rewritten, "error", err)
			continue
		}
		stats.Relaunched++
	}
	return stats
}

// applyCompletions consumes every completion delivered so far. Must be
// called frozen.
func (s *Supervisor) applyCompletions(ctx context.Context) {
	for {
		select {
		case c := <-s.completions:
			if !s.registry.MarkFinished(c.id, c.code) {
				slog.DebugContext(ctx, "completion for unknown job", "job_id", c.id, "pid", c.pid, "exit_code", c.code)
			}
		default:
			return
		}
	}
}

// inspect drains and shows the pending errors of j. It reports whether j
// has to be retried with fast-run instead.
func (s *Supervisor) inspect(ctx context.Context, j *Job, running bool) (rerun bool) {
	var got bool
	if j.kind == KindCommand {
		got = drain(j, s.drainTimeout)
	}

	if s.fastRun && j.kind == KindCommand {
		if running && j.stderr == nil {
			// stream ended, the exit code decides on the next poll
			j.heldOutput = j.heldOutput || got
			return false
		}
		if code, ok := j.ExitCode(); ok && code == 127 && (got || j.heldOutput) {
			j.takeError()
			return true
		}
	}

	text := j.takeError()
	if text == "" || j.SkipErrors() {
		return false
	}
	skip := s.deps.UI.ConfirmOrSuppress(errorTitle, text)
	j.setSkipErrors(skip)
	slog.DebugContext(ctx, "background job error shown", "job_id", j.id, "command", j.command, "skip_errors", skip)
	return false
}

func (s *Supervisor) reap(ctx context.Context, j *Job) {
	if j.kind == KindOperation {
		s.deps.JobBar.Remove(j.progress)
	}
	if err := j.close(); err != nil {
		slog.WarnContext(ctx, "closing job pipe", "job_id", j.id, "error", err)
	}
	code, _ := j.ExitCode()
	slog.DebugContext(ctx, "background job reaped",
		"job_id", j.id,
		"kind", j.kind,
		"pid", j.pid,
		"command", j.command,
		"exit_code", code,
	)
}
