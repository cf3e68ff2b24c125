package background

import "slices"

// LiveJobs returns the jobs of the live list, oldest first.
func (s *Supervisor) LiveJobs() []*Job {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	return slices.Clone(s.registry.jobs)
}

func NewTestJob(kind Kind, pid int, command string) *Job {
	return newJob(kind, pid, command)
}

func (j *Job) Finish(code int) bool { return j.finish(code) }

type LimitedBuffer = limitedBuffer

var NewLimitedBuffer = newLimitedBuffer
