package ratelimit

import "time"

// Limit is a fixed-window admission policy.
type Limit struct {
	Window      time.Duration
	MaxRequests int
	// Message overrides the rejection body's error text.
	Message string
}

// Result is the admission decision for one request.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// CounterStore tracks request counts per key within fixed windows. An
// expired window resets lazily to zero on the next touch; counts are
// never decremented.
type CounterStore interface {
	// Hit counts a request and returns the running total and the
	// window's reset time.
	Hit(key string, window time.Duration) (int, time.Time)
	// Peek reads the running total without counting.
	Peek(key string, window time.Duration) (int, time.Time)
	// Reset drops a key entirely.
	Reset(key string) bool
	// Sweep removes expired windows and reports how many were dropped.
	Sweep() int
}

// Limiter makes admission decisions against a CounterStore.
type Limiter struct {
	store CounterStore
}

func NewLimiter(store CounterStore) *Limiter {
	return &Limiter{store: store}
}

// Check counts the request and decides admission.
func (l *Limiter) Check(key string, limit Limit) Result {
	count, resetAt := l.store.Hit(key, limit.Window)
	return decide(count, resetAt, limit)
}

// Inspect decides admission without consuming budget, treating this
// request as the prospective next hit. Used by the failures-only mode,
// which records after the response settles.
func (l *Limiter) Inspect(key string, limit Limit) Result {
	count, resetAt := l.store.Peek(key, limit.Window)
	return decide(count+1, resetAt, limit)
}

// Record consumes budget after the fact.
func (l *Limiter) Record(key string, limit Limit) {
	l.store.Hit(key, limit.Window)
}

func decide(count int, resetAt time.Time, limit Limit) Result {
	res := Result{
		Allowed:   count <= limit.MaxRequests,
		Limit:     limit.MaxRequests,
		Remaining: limit.MaxRequests - count,
		ResetAt:   resetAt,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = time.Until(resetAt)
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
	}
	return res
}
