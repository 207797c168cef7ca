// Package queue hands generation jobs to the worker pool and reads their status.
package queue

import (
	"context"
	"errors"
	"time"
)

// Priorities; team work is dequeued before personal work.
const (
	PriorityPersonal = 0
	PriorityTeam     = 1
)

// Job states reported by the worker pool.
const (
	StateWaiting   = "waiting"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

var ErrJobNotFound = errors.New("job not found")

// JobSpec is the unit of work submitted for one generation.
type JobSpec struct {
	GenerationID   string   `json:"generationId"`
	PersonID       string   `json:"personId"`
	GroupID        string   `json:"groupId"`
	SelfieKeys     []string `json:"selfieKeys"`
	SelfieAssetIDs []string `json:"selfieAssetIds,omitempty"`
	Prompt         string   `json:"prompt,omitempty"`
	Provider       string   `json:"provider"`
	Priority       int      `json:"priority"`
	IsRegeneration bool     `json:"isRegeneration"`
}

type JobStatus struct {
	ID            string
	State         string
	Progress      int
	Attempts      int
	FailureReason string
	EnqueuedAt    time.Time
}

// Gateway submits jobs and reads their status. Enqueue is idempotent per
// generation: the job id is derived from the generation id.
type Gateway interface {
	Enqueue(ctx context.Context, spec JobSpec) (string, error)
	Status(ctx context.Context, jobID string) (*JobStatus, error)
	Exists(ctx context.Context, jobID string) (bool, error)
}

// JobID derives the queue job id for a generation.
func JobID(generationID string) string {
	return "gen-" + generationID
}
