package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/talentflow/orchestrator/pkg/logger"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryStore is the in-process CounterStore. One entry per key; expired
// windows reset lazily on touch and are swept in the background so the
// map stays bounded.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

func (s *MemoryStore) Hit(key string, windowLen time.Duration) (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.touch(key, windowLen)
	w.count++
	return w.count, w.resetAt
}

func (s *MemoryStore) Peek(key string, windowLen time.Duration) (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.touch(key, windowLen)
	return w.count, w.resetAt
}

func (s *MemoryStore) Reset(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.windows[key]
	delete(s.windows, key)
	return ok
}

func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cleaned := 0
	for key, w := range s.windows {
		if now.After(w.resetAt) {
			delete(s.windows, key)
			cleaned++
		}
	}
	return cleaned
}

// touch returns the live window for a key, starting a fresh one if none
// exists or the previous window expired. Caller holds the lock.
func (s *MemoryStore) touch(key string, windowLen time.Duration) *window {
	now := time.Now()
	w, ok := s.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(windowLen)}
		s.windows[key] = w
	}
	return w
}

// StartSweep runs the cleanup loop until the context is canceled.
func (s *MemoryStore) StartSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cleaned := s.Sweep(); cleaned > 0 {
				logger.Log.Debug().Int("cleaned", cleaned).Msg("Swept expired rate limit windows")
			}
		}
	}
}
