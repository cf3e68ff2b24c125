package background

import (
	"io"
	"strings"
	"sync"

	"github.com/fmjobs/fmjobs/internal/progress"
	"github.com/google/uuid"
)

// NoPID is the process id of jobs backed by a goroutine.
const NoPID = -1

// Kind tells how a job is executed.
type Kind int

const (
	// KindCommand is an external process.
	KindCommand Kind = iota
	// KindTask is an untracked worker goroutine.
	KindTask
	// KindOperation is a worker goroutine with a visible progress bar.
	KindOperation
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindTask:
		return "task"
	case KindOperation:
		return "operation"
	default:
		return "unknown"
	}
}

// Job is a unit of background execution. The registry owns it from Add
// until it is reaped by the Poller.
type Job struct {
	id      uuid.UUID
	pid     int
	command string
	kind    Kind

	// process jobs only
	stderr     <-chan []byte
	pipe       io.Closer
	// Poller only: output kept back until the exit code is known
	heldOutput bool

	// operation jobs only
	progress *progress.Info

	mu          sync.Mutex
	running     bool
	exitCode    int
	skipErrors  bool
	errBuf      strings.Builder
	transitions int
	closed      bool
}

func newJob(kind Kind, pid int, command string) *Job {
	return &Job{
		id:      uuid.New(),
		pid:     pid,
		command: command,
		kind:    kind,
		running: true,
	}
}

// ID identifies the job for its whole life, pids may be reused.
func (j *Job) ID() uuid.UUID { return j.id }

// PID is the process group leader, NoPID for goroutine jobs.
func (j *Job) PID() int { return j.pid }

// Command is the shell command or the description of the job.
func (j *Job) Command() string { return j.command }

// Kind reports how the job is executed.
func (j *Job) Kind() Kind { return j.kind }

// Progress is nil unless the job is an Operation.
func (j *Job) Progress() *progress.Info { return j.progress }

// Running reports whether the job has not finished yet.
func (j *Job) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// ExitCode is valid only when ok is true, i.e. once the job has finished.
func (j *Job) ExitCode() (code int, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return 0, false
	}
	return j.exitCode, true
}

// SkipErrors reports whether the user suppressed further errors of the job.
func (j *Job) SkipErrors() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.skipErrors
}

// Transitions counts how many times the job went from running to finished.
// It is one for every finished job.
func (j *Job) Transitions() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitions
}

func (j *Job) setSkipErrors(skip bool) {
	j.mu.Lock()
	j.skipErrors = skip
	j.mu.Unlock()
}

// finish records the end of the job. Only the first call has an effect.
func (j *Job) finish(code int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return false
	}
	j.running = false
	j.exitCode = code
	j.transitions++
	return true
}

func (j *Job) appendError(text string) {
	if text == "" {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.skipErrors {
		return
	}
	j.errBuf.WriteString(text)
}

func (j *Job) takeError() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := j.errBuf.String()
	j.errBuf.Reset()
	return s
}

// close releases the error pipe of a process job.
func (j *Job) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed || j.pipe == nil {
		j.closed = true
		return nil
	}
	j.closed = true
	return j.pipe.Close()
}

// Info is a read-only view of a job used for listings.
type Info struct {
	ID       uuid.UUID
	PID      int
	Command  string
	Kind     Kind
	Running  bool
	ExitCode int
	Progress *progress.State
}

func (j *Job) info() Info {
	j.mu.Lock()
	i := Info{
		ID:       j.id,
		PID:      j.pid,
		Command:  j.command,
		Kind:     j.kind,
		Running:  j.running,
		ExitCode: j.exitCode,
	}
	j.mu.Unlock()

	if j.progress != nil {
		s := j.progress.Snapshot()
		i.Progress = &s
	}
	return i
}
