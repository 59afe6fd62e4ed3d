// Package store persists verification jobs and the per-submission lock that
// keeps one (student, volunteer) pair from running twice at once.
//
// A job moves PENDING -> PROCESSING -> DONE|FAILED, or PENDING -> FAILED
// when it cannot be dispatched. Every transition is a compare-and-swap on
// the current status; the lock is taken by Begin and released when the job
// reaches a terminal status.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fpang/scholarship-verification/internal/pipeline"
)

// Job statuses.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// JobTTL bounds how long job records and stale locks live.
const JobTTL = 24 * time.Hour

var (
	// ErrInProgress is returned by Begin when the pair already has an active job.
	ErrInProgress = errors.New("verification already in progress")
	// ErrNotFound is returned when a job ID is unknown.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a job is not in the expected status.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Job is one submitted verification.
type Job struct {
	ID          string           `json:"id" dynamodbav:"id"`
	StudentID   string           `json:"studentId" dynamodbav:"studentId"`
	VolunteerID string           `json:"volunteerId" dynamodbav:"volunteerId"`
	Status      string           `json:"status" dynamodbav:"status"`
	Error       string           `json:"error,omitempty" dynamodbav:"error,omitempty"`
	Output      *pipeline.Output `json:"output,omitempty" dynamodbav:"output,omitempty"`
	CreatedAt   time.Time        `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt" dynamodbav:"updatedAt"`
}

// Terminal reports whether the job has finished.
func (j *Job) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusFailed
}

// JobStore is implemented by the memory, DynamoDB and Redis stores.
// All methods are safe for concurrent use.
type JobStore interface {
	// Begin records job as PENDING and takes the lock for its pair. It
	// returns ErrInProgress if another job for the pair is not terminal.
	Begin(ctx context.Context, job *Job) error
	// MarkRunning moves a PENDING job to PROCESSING.
	MarkRunning(ctx context.Context, id string) error
	// Complete moves a PROCESSING job to DONE and releases the lock.
	Complete(ctx context.Context, id string, out *pipeline.Output) error
	// Fail moves a PENDING or PROCESSING job to FAILED and releases the lock.
	Fail(ctx context.Context, id, reason string) error
	// Get returns a job or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)
}

// LockKey identifies the submission slot of a (student, volunteer) pair.
func LockKey(studentID, volunteerID string) string {
	return fmt.Sprintf("PV#%s#%s", studentID, volunteerID)
}

// allowedFrom lists the statuses a job may leave to reach each target.
var allowedFrom = map[string][]string{
	StatusProcessing: {StatusPending},
	StatusDone:       {StatusProcessing},
	StatusFailed:     {StatusPending, StatusProcessing},
}

func canTransition(from, to string) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

func transitionError(id, from, to string) error {
	return fmt.Errorf("job %s %s -> %s: %w", id, from, to, ErrInvalidTransition)
}
