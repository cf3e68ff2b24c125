package background

import (
	"github.com/fmjobs/fmjobs/internal/progress"
	"golang.org/x/sys/unix"
)

// UI is the dialog part of the host application.
type UI interface {
	// ConfirmOrSuppress shows text synchronously. The returned value
	// becomes the job's skip-errors flag.
	ConfirmOrSuppress(title, text string) bool
	// NotifyImmediate reports an error raised outside of any job.
	NotifyImmediate(title, text string)
}

// JobBar displays the progress of Operation jobs.
type JobBar interface {
	Add(p *progress.Info)
	Remove(p *progress.Info)
	Changed(p *progress.Info)
}

// Rewriter resolves an alternative invocation for a command which failed
// with exit code 127.
type Rewriter interface {
	RewriteForRetry(command string) (string, bool)
}

// Terminator asks a child process to terminate.
type Terminator interface {
	RequestTermination(pid int) error
}

// Deps bundles the collaborators of a Supervisor. Nil members are replaced
// by no-op implementations, the Terminator defaults to SIGTERM sent to the
// process group.
type Deps struct {
	UI         UI
	JobBar     JobBar
	Rewriter   Rewriter
	Terminator Terminator
}

func (d Deps) withDefaults() Deps {
	if d.UI == nil {
		d.UI = nopUI{}
	}
	if d.JobBar == nil {
		d.JobBar = nopBar{}
	}
	if d.Rewriter == nil {
		d.Rewriter = nopRewriter{}
	}
	if d.Terminator == nil {
		d.Terminator = GroupTerminator{}
	}
	return d
}

type nopUI struct{}

func (nopUI) ConfirmOrSuppress(string, string) bool { return false }
func (nopUI) NotifyImmediate(string, string)        {}

type nopBar struct{}

func (nopBar) Add(*progress.Info)     {}
func (nopBar) Remove(*progress.Info)  {}
func (nopBar) Changed(*progress.Info) {}

type nopRewriter struct{}

func (nopRewriter) RewriteForRetry(string) (string, bool) { return "", false }

// GroupTerminator sends SIGTERM to the process group of pid. Every process
// job runs in its own group, so helpers spawned by the shell get it too.
// It falls back to the process alone when the group is gone.
type GroupTerminator struct{}

func (GroupTerminator) RequestTermination(pid int) error {
	if pid <= 0 {
		return unix.ESRCH
	}
	err := unix.Kill(-pid, unix.SIGTERM)
	if err == unix.ESRCH {
		err = unix.Kill(pid, unix.SIGTERM)
	}
	return err
}
