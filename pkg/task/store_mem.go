package task

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/talentflow/orchestrator/pkg/errs"
)

// MemoryStore keeps tasks in a mutex-guarded map. Used by tests and as
// the fallback when no Postgres DSN is configured.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

func (s *MemoryStore) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return errs.Validation("id", "task already exists")
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, errs.NotFound("task", id)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Claim(_ context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, errs.NotFound("task", id)
	}
	if t.Status != StatusPending {
		return nil, ErrNotClaimable
	}
	now := time.Now()
	t.Status = StatusRunning
	t.StartedAt = &now
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) RecordAttempt(_ context.Context, id string, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return errs.NotFound("task", id)
	}
	if t.Status.Terminal() {
		return ErrTerminal
	}
	if attempt > t.MaxAttempts {
		return errs.Validation("attempt", "attempt budget exceeded")
	}
	t.AttemptCount = attempt
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, id string, result json.RawMessage) error {
	return s.finish(id, StatusCompleted, result, "")
}

func (s *MemoryStore) Fail(_ context.Context, id string, summary string) error {
	return s.finish(id, StatusFailed, nil, summary)
}

func (s *MemoryStore) finish(id string, status Status, result json.RawMessage, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return errs.NotFound("task", id)
	}
	if t.Status.Terminal() {
		return ErrTerminal
	}
	now := time.Now()
	t.Status = status
	t.Result = result
	t.Error = summary
	t.CompletedAt = &now
	return nil
}
