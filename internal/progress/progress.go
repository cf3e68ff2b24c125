package progress

import "sync"

// Unknown is the progress value of an indeterminate operation.
const Unknown = -1

// State is a copy of the counters of an Info.
type State struct {
	Total       int
	Done        int
	Progress    int
	Description string
}

// Info is the progress counter of a single tracked background operation.
// Workers are the only writers of Done and Progress, readers always go
// through Snapshot, so every access is taken under the same lock.
type Info struct {
	mu      sync.Mutex
	state   State
	changed func(*Info)
}

// New returns an Info with nothing done and indeterminate progress.
// changed, when not nil, is called every time the description is replaced.
func New(total int, description string, changed func(*Info)) *Info {
	return &Info{
		state: State{
			Total:       total,
			Done:        0,
			Progress:    Unknown,
			Description: description,
		},
		changed: changed,
	}
}

// Update runs fn with the counters locked. Total and Description are not
// writable through Update; Done never decreases and never goes above Total.
func (p *Info) Update(fn func(s *State)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.state
	fn(&p.state)
	p.state.Total = prev.Total
	p.state.Description = prev.Description
	p.normalize(prev.Done)
}

// Advance adds n units to Done and recomputes Progress.
func (p *Info) Advance(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.state.Done
	p.state.Done += n
	if p.state.Total > 0 {
		p.state.Progress = percent(p.state.Done, p.state.Total)
	}
	p.normalize(prev)
}

// SetDescription replaces the description. The change callback runs after
// the lock is released, so it can read the Info back.
func (p *Info) SetDescription(description string) {
	p.mu.Lock()
	p.state.Description = description
	p.mu.Unlock()

	if p.changed != nil {
		p.changed(p)
	}
}

// Snapshot returns a consistent copy of the counters.
func (p *Info) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Info) normalize(prevDone int) {
	s := &p.state
	if s.Done < prevDone {
		s.Done = prevDone
	}
	if s.Total > 0 && s.Done > s.Total {
		s.Done = s.Total
	}
	switch {
	case s.Progress < Unknown:
		s.Progress = Unknown
	case s.Progress > 100:
		s.Progress = 100
	}
}

func percent(done, total int) int {
	if done >= total {
		return 100
	}
	return done * 100 / total
}
