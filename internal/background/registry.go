package background

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrFrozen is returned when the registry is frozen by another actor,
	// callers should try again later.
	ErrFrozen = errors.New("job registry is frozen")
	// ErrDetached is returned by listings while the Poller walks the jobs.
	ErrDetached = errors.New("job registry is being walked")
)

// Registry is the ordered collection of all live jobs.
//
// Structural changes other than Add happen only between Freeze and
// Unfreeze. The Poller detaches the whole list for its walk, so anything
// running in the meantime sees an empty registry, and Add keeps working.
type Registry struct {
	mu       sync.Mutex
	jobs     []*Job // insertion order, oldest first
	procs    map[uuid.UUID]*Job
	detached bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		procs: make(map[uuid.UUID]*Job),
	}
}

// Freeze engages the registry lock without waiting for it.
func (r *Registry) Freeze() error {
	if !r.mu.TryLock() {
		return ErrFrozen
	}
	return nil
}

// Unfreeze releases the lock engaged by Freeze.
func (r *Registry) Unfreeze() {
	r.mu.Unlock()
}

// Add registers a new job.
func (r *Registry) Add(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, j)
	if j.pid != NoPID {
		r.procs[j.id] = j
	}
}

// MarkFinished records the exit code of the process job id. Unknown ids
// are ignored. Must be called frozen.
func (r *Registry) MarkFinished(id uuid.UUID, code int) bool {
	j, ok := r.procs[id]
	if !ok {
		return false
	}
	return j.finish(code)
}

// detach hands the live list over to the caller. Must be called frozen.
func (r *Registry) detach() ([]*Job, bool) {
	if r.detached || len(r.jobs) == 0 {
		return nil, false
	}
	jobs := r.jobs
	r.jobs = nil
	r.detached = true
	return jobs, true
}

// reattach puts back the jobs which survived a walk in front of the jobs
// added during it. Must be called frozen.
func (r *Registry) reattach(kept, removed []*Job) {
	for _, j := range removed {
		delete(r.procs, j.id)
	}
	r.jobs = append(kept, r.jobs...)
	r.detached = false
}

// Snapshot lists the live jobs, newest first. Must be called frozen.
func (r *Registry) Snapshot() ([]Info, error) {
	if r.detached {
		return nil, ErrDetached
	}
	out := make([]Info, 0, len(r.jobs))
	for _, j := range slices.Backward(r.jobs) {
		out = append(out, j.info())
	}
	return out, nil
}

// Len counts the jobs in the live list. Must be called frozen.
func (r *Registry) Len() int {
	return len(r.jobs)
}
