package background

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	errorTitle     = "Background Process Error"
	chunkSize      = 4096
	pendingChunks  = 16
	exitNotStarted = -1
)

// completion is the message a process waiter sends once its child is gone.
// The child is reaped by then and its pid may already belong to another
// process, so the job is identified by its id.
type completion struct {
	id   uuid.UUID
	pid  int
	code int
}

// processRunner starts external commands through the configured shell.
type processRunner struct {
	shell       string
	exitGrace   time.Duration
	maxErrBytes int
	terminator  Terminator
}

func (r processRunner) command(ctx context.Context, shell, text string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, shell, "-c", text)
	// own process group, so a termination request reaches the helpers the
	// shell spawns as well
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// spawnSupervised starts a Command job: stdin and stdout go to the null
// device, stderr to a pipe owned by the job. register is called before any
// completion for the job can be delivered.
func (r processRunner) spawnSupervised(ctx context.Context, text string, register func(*Job), completions chan<- completion, closed <-chan struct{}) (*Job, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating error pipe: %w", err)
	}

	cmd := r.command(context.WithoutCancel(ctx), r.shell, text)
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("starting background command: %w", err)
	}
	// the child holds its own copy now
	_ = pw.Close()

	chunks := make(chan []byte, pendingChunks)
	quit := make(chan struct{})
	j := newJob(KindCommand, cmd.Process.Pid, text)
	j.stderr = chunks
	j.pipe = pipeCloser{File: pr, quit: quit}
	register(j)

	pumped := make(chan struct{})
	go pump(pr, chunks, quit, pumped)
	go r.wait(ctx, j.id, cmd, pumped, completions, closed)
	return j, nil
}

// pump forwards everything the child writes to its stderr until EOF or
// until the job releases the pipe.
func pump(r io.Reader, chunks chan<- []byte, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(chunks)
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (r processRunner) wait(ctx context.Context, id uuid.UUID, cmd *exec.Cmd, pumped <-chan struct{}, completions chan<- completion, closed <-chan struct{}) {
	err := cmd.Wait()
	code := exitCode(cmd.ProcessState)
	if err != nil && cmd.ProcessState == nil {
		slog.ErrorContext(ctx, "waiting for background command", "pid", cmd.Process.Pid, "error", err)
	}

	// give the pump a chance to read what the child wrote right before it
	// exited, a grandchild may keep the pipe open for much longer though
	grace := time.NewTimer(r.exitGrace)
	select {
	case <-pumped:
	case <-grace.C:
	}
	grace.Stop()

	select {
	case completions <- completion{id: id, pid: cmd.Process.Pid, code: code}:
	case <-closed:
	}
}

// waitStatus runs text and blocks until the child exits. When cancellable,
// a raised cancellation flag sends a termination request to the child and
// the wait goes on until the child is really gone.
func (r processRunner) waitStatus(ctx context.Context, text string, cancel *Cancellation, cancellable bool) (status int, cancelled bool) {
	runCtx := context.WithoutCancel(ctx)
	if cancellable {
		var stop context.CancelFunc
		runCtx, stop = cancel.begin(ctx)
		defer stop()
	}

	cmd := r.command(runCtx, r.shell, text)
	cmd.Cancel = r.cancelFunc(ctx, cmd)
	if err := cmd.Start(); err != nil {
		slog.ErrorContext(ctx, "starting command", "command", text, "error", err)
		return exitNotStarted, false
	}

	err := cmd.Wait()
	cancelled = cancellable && cancel.Requested()
	if cmd.ProcessState == nil {
		slog.ErrorContext(ctx, "waiting for command", "command", text, "error", err)
		return exitNotStarted, cancelled
	}
	return exitCode(cmd.ProcessState), cancelled
}

// collectErrors runs text like waitStatus and gathers its error stream. A
// non-empty message means failure: a zero exit code is turned into -1.
func (r processRunner) collectErrors(ctx context.Context, text string, cancel *Cancellation, cancellable bool, reporter Reporter) (int, string) {
	runCtx := context.WithoutCancel(ctx)
	if cancellable {
		var stop context.CancelFunc
		runCtx, stop = cancel.begin(ctx)
		defer stop()
	}

	cmd := r.command(runCtx, r.shell, text)
	cmd.Cancel = r.cancelFunc(ctx, cmd)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		reporter.ReportError(ctx, "File pipe error", "Error creating pipe")
		return exitNotStarted, ""
	}
	if err := cmd.Start(); err != nil {
		msg := err.Error()
		reporter.ReportError(ctx, errorTitle, msg)
		return exitNotStarted, msg
	}

	buf := newLimitedBuffer(r.maxErrBytes)
	rd := bufio.NewReader(stderr)
	for {
		line, err := rd.ReadString('\n')
		if line != "" && line != "\n" {
			buf.WriteString(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.DebugContext(ctx, "reading command stderr", "command", text, "error", err)
			}
			break
		}
	}
	_ = cmd.Wait()

	code := exitNotStarted
	if cmd.ProcessState != nil {
		code = exitCode(cmd.ProcessState)
	}
	msg := buf.String()
	if msg == "" {
		return code, ""
	}
	if buf.Truncated() {
		slog.DebugContext(ctx, "command stderr truncated", "command", text, "limit", r.maxErrBytes)
	}
	reporter.ReportError(ctx, errorTitle, msg)
	if code == 0 {
		code = -1
	}
	return code, msg
}

// Capture is a command whose output streams are read by the caller. Read
// Stdout and Stderr to EOF, then call Wait to reap the child.
type Capture struct {
	PID    int
	Stdout io.ReadCloser
	Stderr io.ReadCloser
	cmd    *exec.Cmd
}

// Wait reaps the child and returns its exit code.
func (c *Capture) Wait() (int, error) {
	err := c.cmd.Wait()
	if c.cmd.ProcessState == nil {
		return exitNotStarted, err
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}
	return exitCode(c.cmd.ProcessState), err
}

func (r processRunner) capture(ctx context.Context, text string, useShell bool) (*Capture, error) {
	shell := "/bin/sh"
	if useShell {
		shell = r.shell
	}
	cmd := r.command(context.WithoutCancel(ctx), shell, text)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating error pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting command: %w", err)
	}
	return &Capture{
		PID:    cmd.Process.Pid,
		Stdout: stdout,
		Stderr: stderr,
		cmd:    cmd,
	}, nil
}

func (r processRunner) cancelFunc(ctx context.Context, cmd *exec.Cmd) func() error {
	return func() error {
		pid := cmd.Process.Pid
		slog.DebugContext(ctx, "requesting termination", "pid", pid)
		if err := r.terminator.RequestTermination(pid); err != nil {
			slog.WarnContext(ctx, "termination request failed", "pid", pid, "error", err)
		}
		// keep waiting for the child in any case
		return nil
	}
}

// drain moves the pending error output of a process job to its error
// buffer and reports whether there was any. It returns once nothing arrived
// for timeout or the stream ended.
func drain(j *Job, timeout time.Duration) (got bool) {
	if j.stderr == nil {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case chunk, ok := <-j.stderr:
			if !ok {
				j.stderr = nil
				return got
			}
			got = true
			j.appendError(string(chunk))
			timer.Reset(timeout)
		case <-timer.C:
			return got
		}
	}
}

func exitCode(state *os.ProcessState) int {
	if state == nil {
		return exitNotStarted
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

// pipeCloser closes the read end of an error pipe and stops its pump.
type pipeCloser struct {
	*os.File
	quit chan struct{}
}

func (p pipeCloser) Close() error {
	close(p.quit)
	return p.File.Close()
}
