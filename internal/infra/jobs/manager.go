// Package jobs tracks long-running background work (analyses and
// purifications) so HTTP clients can poll for completion.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Job is the pollable view of one background task. Result holds the
// finished task's payload id (analysis id, purification id).
type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	State      State     `json:"state"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Manager runs tasks on background goroutines and keeps their state in
// memory. Job ids are opaque; a failed job stays failed and the client
// retries by submitting a new job.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	log  *zap.Logger
}

func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{jobs: map[string]*Job{}, log: log}
}

// Submit starts fn on a background goroutine and returns the job id
// immediately. fn returns the result payload id or an error; the task
// runs to completion regardless of the submitting request's lifetime.
func (m *Manager) Submit(kind string, fn func(ctx context.Context) (string, error)) string {
	id := uuid.NewString()
	job := &Job{ID: id, Kind: kind, State: StatePending, CreatedAt: time.Now()}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	go func() {
		m.setState(id, StateRunning, "", "")
		result, err := fn(context.Background())
		if err != nil {
			m.log.Warn("background job failed",
				zap.String("job_id", id),
				zap.String("kind", kind),
				zap.Error(err))
			m.setState(id, StateFailed, "", err.Error())
			return
		}
		m.setState(id, StateDone, result, "")
	}()

	return id
}

// Get returns a snapshot of the job, or nil when the id is unknown.
func (m *Manager) Get(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil
	}
	snapshot := *job
	return &snapshot
}

func (m *Manager) setState(id string, state State, result, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	job.State = state
	job.Result = result
	job.Error = errMsg
	if state == StateDone || state == StateFailed {
		job.FinishedAt = time.Now()
	}
}
