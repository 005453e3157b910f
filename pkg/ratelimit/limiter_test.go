package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAllowsUpToLimit(t *testing.T) {
	l := NewLimiter(NewMemoryStore())
	limit := Limit{Window: time.Minute, MaxRequests: 3}

	for i := 0; i < 3; i++ {
		res := l.Check("k", limit)
		assert.True(t, res.Allowed, "request %d should pass", i+1)
	}

	res := l.Check("k", limit)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestCheckRemainingCountsDown(t *testing.T) {
	l := NewLimiter(NewMemoryStore())
	limit := Limit{Window: time.Minute, MaxRequests: 3}

	assert.Equal(t, 2, l.Check("k", limit).Remaining)
	assert.Equal(t, 1, l.Check("k", limit).Remaining)
	assert.Equal(t, 0, l.Check("k", limit).Remaining)
}

func TestWindowExpiryResetsToOne(t *testing.T) {
	l := NewLimiter(NewMemoryStore())
	limit := Limit{Window: 20 * time.Millisecond, MaxRequests: 2}

	l.Check("k", limit)
	l.Check("k", limit)
	assert.False(t, l.Check("k", limit).Allowed)

	time.Sleep(30 * time.Millisecond)

	res := l.Check("k", limit)
	assert.True(t, res.Allowed, "a fresh window must admit again")
	assert.Equal(t, limit.MaxRequests-1, res.Remaining, "the first hit of the new window counts as one")
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewLimiter(NewMemoryStore())
	limit := Limit{Window: time.Minute, MaxRequests: 1}

	assert.True(t, l.Check("a", limit).Allowed)
	assert.False(t, l.Check("a", limit).Allowed)
	assert.True(t, l.Check("b", limit).Allowed)
}

func TestInspectDoesNotConsume(t *testing.T) {
	l := NewLimiter(NewMemoryStore())
	limit := Limit{Window: time.Minute, MaxRequests: 2}

	for i := 0; i < 5; i++ {
		assert.True(t, l.Inspect("k", limit).Allowed)
	}

	l.Record("k", limit)
	l.Record("k", limit)
	l.Record("k", limit)
	assert.False(t, l.Inspect("k", limit).Allowed)
}

func TestSweepDropsExpiredWindows(t *testing.T) {
	store := NewMemoryStore()
	l := NewLimiter(store)

	l.Check("short", Limit{Window: 5 * time.Millisecond, MaxRequests: 1})
	l.Check("long", Limit{Window: time.Minute, MaxRequests: 1})

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 0, store.Sweep())
}

func TestResetDropsKey(t *testing.T) {
	store := NewMemoryStore()
	l := NewLimiter(store)
	limit := Limit{Window: time.Minute, MaxRequests: 1}

	l.Check("k", limit)
	assert.False(t, l.Check("k", limit).Allowed)

	assert.True(t, store.Reset("k"))
	assert.True(t, l.Check("k", limit).Allowed)
	assert.False(t, store.Reset("ghost"))
}
