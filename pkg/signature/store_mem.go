package signature

import (
	"context"
	"sync"
	"time"

	"github.com/talentflow/orchestrator/pkg/errs"
)

// MemoryStore keeps signature requests in a mutex-guarded map.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

func (s *MemoryStore) Create(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return errs.Validation("id", "signature request already exists")
	}
	cp := *r
	s.requests[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, errs.NotFound("signature request", id)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetByEnvelope(_ context.Context, envelopeID string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.EnvelopeID == envelopeID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, errs.NotFound("signature request", envelopeID)
}

func (s *MemoryStore) MarkSent(_ context.Context, id, envelopeID string) error {
	return s.update(id, func(r *Request) error {
		if r.Status.Terminal() {
			return ErrTerminal
		}
		r.EnvelopeID = envelopeID
		r.Status = StatusSent
		return nil
	})
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, status Status) error {
	return s.update(id, func(r *Request) error {
		if r.Status.Terminal() {
			return ErrTerminal
		}
		r.Status = status
		return nil
	})
}

func (s *MemoryStore) ListInFlight(_ context.Context, contractID string) ([]*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Request
	for _, r := range s.requests {
		if r.ContractID == contractID && (r.Status == StatusPending || r.Status == StatusSent) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListStalePending(_ context.Context, cutoff time.Time) ([]*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Request
	for _, r := range s.requests {
		if r.Status == StatusPending && r.UpdatedAt.Before(cutoff) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) update(id string, fn func(*Request) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return errs.NotFound("signature request", id)
	}
	if err := fn(r); err != nil {
		return err
	}
	r.UpdatedAt = time.Now()
	return nil
}
