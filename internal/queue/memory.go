package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryGateway is an in-process Gateway used when no Redis is configured.
type MemoryGateway struct {
	mu       sync.Mutex
	jobs     map[string]*memoryJob
	seq      int64
	failNext error
}

type memoryJob struct {
	spec   JobSpec
	status JobStatus
	seq    int64
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{jobs: make(map[string]*memoryJob)}
}

// FailNext makes the next Enqueue call return err.
func (g *MemoryGateway) FailNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = err
}

func (g *MemoryGateway) Enqueue(_ context.Context, spec JobSpec) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failNext != nil {
		err := g.failNext
		g.failNext = nil
		return "", err
	}
	jobID := JobID(spec.GenerationID)
	if _, ok := g.jobs[jobID]; ok {
		return jobID, nil
	}
	g.seq++
	g.jobs[jobID] = &memoryJob{
		spec: spec,
		seq:  g.seq,
		status: JobStatus{
			ID:         jobID,
			State:      StateWaiting,
			EnqueuedAt: time.Now().UTC(),
		},
	}
	return jobID, nil
}

func (g *MemoryGateway) Status(_ context.Context, jobID string) (*JobStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	job, ok := g.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	status := job.status
	return &status, nil
}

func (g *MemoryGateway) Exists(_ context.Context, jobID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.jobs[jobID]
	return ok, nil
}

// Update records worker progress for a job.
func (g *MemoryGateway) Update(jobID, state string, progress int, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	job, ok := g.jobs[jobID]
	if !ok {
		return
	}
	job.status.State = state
	job.status.Progress = progress
	job.status.FailureReason = reason
	if state == StateActive {
		job.status.Attempts++
	}
}

// Spec returns the submitted spec of a job.
func (g *MemoryGateway) Spec(jobID string) (JobSpec, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	job, ok := g.jobs[jobID]
	if !ok {
		return JobSpec{}, false
	}
	return job.spec, true
}

// Pending returns waiting job ids in dequeue order.
func (g *MemoryGateway) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var waiting []*memoryJob
	for _, job := range g.jobs {
		if job.status.State == StateWaiting {
			waiting = append(waiting, job)
		}
	}
	sort.Slice(waiting, func(i, j int) bool {
		if waiting[i].spec.Priority != waiting[j].spec.Priority {
			return waiting[i].spec.Priority > waiting[j].spec.Priority
		}
		return waiting[i].seq < waiting[j].seq
	})
	ids := make([]string, len(waiting))
	for i, job := range waiting {
		ids[i] = job.status.ID
	}
	return ids
}

// Len reports how many jobs were accepted.
func (g *MemoryGateway) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.jobs)
}
