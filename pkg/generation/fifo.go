package generation

import "sync"

// fifo is the pending job list.
type fifo struct {
	mu   sync.Mutex
	jobs []*Job
}

func (f *fifo) Enqueue(job *Job) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return len(f.jobs)
}

// Pop retrieves and removes the next job, or nil when empty.
func (f *fifo) Pop() *Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return nil
	}
	job := f.jobs[0]
	f.jobs[0] = nil
	f.jobs = f.jobs[1:]
	return job
}

func (f *fifo) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

// Drain empties the list and returns what was pending.
func (f *fifo) Drain() []*Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobs := f.jobs
	f.jobs = nil
	return jobs
}
