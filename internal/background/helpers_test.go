package background_test

import (
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/fmjobs/fmjobs/internal/background"
	"github.com/fmjobs/fmjobs/internal/model"
	"github.com/fmjobs/fmjobs/internal/progress"
	"github.com/stretchr/testify/require"
)

type message struct {
	title string
	text  string
}

type fakeUI struct {
	mu       sync.Mutex
	suppress bool
	onPrompt func()
	prompts  []message
	notified []message
}

func (u *fakeUI) ConfirmOrSuppress(title, text string) bool {
	u.mu.Lock()
	u.prompts = append(u.prompts, message{title, text})
	hook := u.onPrompt
	suppress := u.suppress
	u.mu.Unlock()
	if hook != nil {
		hook()
	}
	return suppress
}

func (u *fakeUI) NotifyImmediate(title, text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notified = append(u.notified, message{title, text})
}

func (u *fakeUI) Prompts() []message {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]message(nil), u.prompts...)
}

func (u *fakeUI) Notified() []message {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]message(nil), u.notified...)
}

type fakeBar struct {
	mu      sync.Mutex
	added   []*progress.Info
	removed []*progress.Info
	changed int
}

func (b *fakeBar) Add(p *progress.Info) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.added = append(b.added, p)
}

func (b *fakeBar) Remove(p *progress.Info) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, p)
}

func (b *fakeBar) Changed(*progress.Info) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changed++
}

func (b *fakeBar) counts() (added, removed, changed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.added), len(b.removed), b.changed
}

type fakeRewriter struct {
	mu        sync.Mutex
	rewritten string
	ok        bool
	seen      []string
}

func (r *fakeRewriter) RewriteForRetry(command string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, command)
	return r.rewritten, r.ok
}

func shell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func newSupervisor(t *testing.T, deps background.Deps, configure ...func(*model.Jobs)) *background.Supervisor {
	t.Helper()
	cfg := model.DefaultJobs()
	cfg.Shell = shell(t)
	for _, fn := range configure {
		fn(&cfg)
	}
	s, err := background.Init(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// pollUntilEmpty polls like a host event loop would until every job is
// reaped and returns the accumulated statistics.
func pollUntilEmpty(t *testing.T, s *background.Supervisor) background.PollStats {
	t.Helper()
	var total background.PollStats
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		st := s.Poll(t.Context())
		total.Walked += st.Walked
		total.Reaped += st.Reaped
		total.Relaunched += st.Relaunched
		total.ShowStatus = total.ShowStatus || st.ShowStatus
		jobs, err := s.Jobs()
		if err == nil && len(jobs) == 0 {
			return total
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("background jobs were not reaped in time")
	return total
}

// pollUntil polls until cond holds.
func pollUntil(t *testing.T, s *background.Supervisor, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		s.Poll(t.Context())
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func commands(jobs []background.Info) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Command)
	}
	return out
}
