package review

import (
	"context"
	"sync"
	"time"

	"github.com/talentflow/orchestrator/pkg/analysis"
	"github.com/talentflow/orchestrator/pkg/errs"
)

// MemoryStore keeps reviews in a mutex-guarded map.
type MemoryStore struct {
	mu      sync.Mutex
	reviews map[string]*ContractReview
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reviews: make(map[string]*ContractReview)}
}

func (s *MemoryStore) Create(_ context.Context, r *ContractReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[r.ID]; ok {
		return errs.Validation("id", "review already exists")
	}
	cp := *r
	s.reviews[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*ContractReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, errs.NotFound("contract review", id)
	}
	cp := s.clone(r)
	return &cp, nil
}

func (s *MemoryStore) Claim(_ context.Context, id string) (*ContractReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, errs.NotFound("contract review", id)
	}
	if r.Status != StatusSubmitted && r.Status != StatusFailed {
		return nil, ErrNotClaimable
	}
	r.Status = StatusProcessing
	r.UpdatedAt = time.Now()
	cp := s.clone(r)
	return &cp, nil
}

func (s *MemoryStore) SaveText(_ context.Context, id, text string) error {
	return s.update(id, func(r *ContractReview) {
		r.RawText = text
	})
}

func (s *MemoryStore) Complete(_ context.Context, id string, f *analysis.Findings, riskScore int) error {
	return s.update(id, func(r *ContractReview) {
		cp := *f
		r.Findings = &cp
		r.RiskScore = riskScore
		r.Status = StatusProcessed
		r.Error = ""
	})
}

func (s *MemoryStore) Fail(_ context.Context, id, cause string) error {
	return s.update(id, func(r *ContractReview) {
		r.Status = StatusFailed
		r.Error = cause
	})
}

func (s *MemoryStore) AppendTimeline(_ context.Context, id string, entry TimelineEntry) error {
	return s.update(id, func(r *ContractReview) {
		r.Timeline = append(r.Timeline, entry)
	})
}

func (s *MemoryStore) update(id string, fn func(*ContractReview)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return errs.NotFound("contract review", id)
	}
	fn(r)
	r.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) clone(r *ContractReview) ContractReview {
	cp := *r
	if r.Findings != nil {
		f := *r.Findings
		cp.Findings = &f
	}
	cp.Timeline = append([]TimelineEntry(nil), r.Timeline...)
	return cp
}
