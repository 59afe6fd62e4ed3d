package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/scholarship-verification/internal/pipeline"
)

// MemoryStore keeps jobs in process memory. Suitable for a single server
// process and for tests.
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	locks map[string]string // lock key -> job ID
	now   func() time.Time
}

var _ JobStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]*Job),
		locks: make(map[string]string),
		now:   time.Now,
	}
}

func (m *MemoryStore) Begin(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := LockKey(job.StudentID, job.VolunteerID)
	if holder, ok := m.locks[key]; ok {
		if j := m.jobs[holder]; j != nil && !j.Terminal() {
			return ErrInProgress
		}
	}

	now := m.now()
	stored := *job
	stored.Status = StatusPending
	stored.CreatedAt, stored.UpdatedAt = now, now
	m.jobs[job.ID] = &stored
	m.locks[key] = job.ID
	*job = stored

	log.Debug().Str("jobId", job.ID).Str("lock", key).Msg("Job lock acquired")
	return nil
}

func (m *MemoryStore) MarkRunning(_ context.Context, id string) error {
	return m.transition(id, StatusProcessing, func(*Job) {})
}

func (m *MemoryStore) Complete(_ context.Context, id string, out *pipeline.Output) error {
	return m.transition(id, StatusDone, func(j *Job) { j.Output = out })
}

func (m *MemoryStore) Fail(_ context.Context, id, reason string) error {
	return m.transition(id, StatusFailed, func(j *Job) { j.Error = reason })
}

func (m *MemoryStore) transition(id, to string, apply func(*Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !canTransition(j.Status, to) {
		return transitionError(id, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = m.now()
	apply(j)

	if j.Terminal() {
		key := LockKey(j.StudentID, j.VolunteerID)
		if m.locks[key] == id {
			delete(m.locks, key)
		}
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}
