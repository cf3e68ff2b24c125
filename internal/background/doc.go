// Package background supervises the jobs a file manager runs without
// blocking its UI goroutine.
//
// Overview
// A Supervisor owns a Registry of Jobs. A Job is one of three kinds:
//   - Command: an external process started through the configured shell,
//     its stderr is kept on a pipe owned by the job
//   - Task: a routine on its own goroutine, not shown anywhere
//   - Operation: a Task with a progress.Info shown on the job bar
//
// The host calls Poll periodically from its UI goroutine. Poll applies the
// process completions delivered since the previous call, drains error
// output, shows errors through UI.ConfirmOrSuppress, retries fast-run
// commands and reaps finished jobs.
//
// Data flow:
//
//	UI goroutine              Registry            waiter goroutine     worker goroutine
//	    |                        |                       |                    |
//	StartCommand -> Add -------->|                       |                    |
//	    |                        |               cmd.Wait() returns           |
//	    |                        |<-- completion{id} ----|                    |
//	Execute -> Add ------------->|------------------------------------------->| routine(ctx, p)
//	    |                        |                       |              finish(0)
//	Poll: Freeze, apply completions, detach, Unfreeze
//	    | walk private list: drain, prompt, reap
//	    | Freeze, reattach, Unfreeze
//
// Invariants:
//   - A job goes from running to finished exactly once: by its completion
//     (Command) or by its bootstrap wrapper (Task, Operation). Poll never
//     finishes a job by itself.
//   - Only Poll consumes completions, so the registry is changed
//     structurally by a single goroutine. Add is the exception, it appends
//     to the live list even while a walk holds the detached one.
//   - A job is reaped only once it is finished, reaping releases its pipe
//     and removes an Operation from the job bar.
//   - Errors raised inside a worker are attributed to its job through the
//     context (WithJob), errors raised without a job go to UI.NotifyImmediate.
//   - RunAndWait and RunAndCollectErrors reap their own children, their
//     pids never enter the registry.
package background
