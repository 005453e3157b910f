package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentflow/orchestrator/pkg/alert"
	"github.com/talentflow/orchestrator/pkg/errs"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []alert.Event
}

func (c *captureNotifier) Notify(_ context.Context, ev alert.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureNotifier) byKind(kind string) []alert.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []alert.Event
	for _, ev := range c.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type captureUsage struct {
	records []Usage
}

func (c *captureUsage) Record(_ context.Context, _ string, u Usage) {
	c.records = append(c.records, u)
}

func newTestProcessor(t *testing.T) (*Processor, *MemoryStore, *captureNotifier, *captureUsage) {
	t.Helper()
	store := NewMemoryStore()
	notifier := &captureNotifier{}
	usage := &captureUsage{}
	return NewProcessor(store, usage, notifier), store, notifier, usage
}

func seedTask(t *testing.T, store *MemoryStore, taskType string) *Task {
	t.Helper()
	tk := New("task-1", taskType, json.RawMessage(`{"thread_id":"th-9"}`))
	require.NoError(t, store.Create(context.Background(), tk))
	return tk
}

func TestProcessSuccess(t *testing.T) {
	p, store, _, usage := newTestProcessor(t)
	seedTask(t, store, "inbox_reply")

	p.Register("inbox_reply", HandlerFunc(func(_ context.Context, tk *Task) (*Result, error) {
		return &Result{
			Status: ResultOK,
			Data:   map[string]string{"reply": "drafted"},
			Usage:  Usage{PromptTokens: 120, CompletionTokens: 40},
		}, nil
	}))

	require.NoError(t, p.Process(context.Background(), "task-1"))

	got, err := store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	require.Len(t, usage.records, 1)
	assert.Equal(t, 120, usage.records[0].PromptTokens)
}

func TestProcessRetriesThenFails(t *testing.T) {
	p, store, notifier, _ := newTestProcessor(t)
	seedTask(t, store, "inbox_reply")

	calls := 0
	p.Register("inbox_reply", HandlerFunc(func(_ context.Context, _ *Task) (*Result, error) {
		calls++
		return nil, errs.Transient("llm", "generate", errors.New("upstream timeout"))
	}))

	require.NoError(t, p.Process(context.Background(), "task-1"))

	got, err := store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Equal(t, 3, calls)
	assert.Contains(t, got.Error, "upstream timeout")

	// Exactly one alert for the exhausted budget, not one per attempt.
	assert.Len(t, notifier.byKind(alert.KindTaskExhausted), 1)
}

func TestProcessRecoversOnLaterAttempt(t *testing.T) {
	p, store, notifier, _ := newTestProcessor(t)
	seedTask(t, store, "inbox_reply")

	calls := 0
	p.Register("inbox_reply", HandlerFunc(func(_ context.Context, _ *Task) (*Result, error) {
		calls++
		if calls < 3 {
			return nil, errs.Transient("llm", "generate", errors.New("flaky"))
		}
		return &Result{Status: ResultOK}, nil
	}))

	require.NoError(t, p.Process(context.Background(), "task-1"))

	got, _ := store.Get(context.Background(), "task-1")
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Empty(t, notifier.byKind(alert.KindTaskExhausted))
}

func TestProcessNonRetryableFailsImmediately(t *testing.T) {
	p, store, _, _ := newTestProcessor(t)
	seedTask(t, store, "inbox_reply")

	calls := 0
	p.Register("inbox_reply", HandlerFunc(func(_ context.Context, _ *Task) (*Result, error) {
		calls++
		return nil, errs.Terminal("llm", "generate", errors.New("document rejected"))
	}))

	require.NoError(t, p.Process(context.Background(), "task-1"))

	got, _ := store.Get(context.Background(), "task-1")
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount, "terminal errors must not consume the remaining budget")
	assert.Equal(t, 1, calls)
}

func TestProcessUnknownTypeResolvesUnsupported(t *testing.T) {
	p, store, notifier, _ := newTestProcessor(t)
	seedTask(t, store, "hologram_render")

	require.NoError(t, p.Process(context.Background(), "task-1"))

	got, err := store.Get(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	var res Result
	require.NoError(t, json.Unmarshal(got.Result, &res))
	assert.Equal(t, ResultUnsupported, res.Status)
	assert.Len(t, notifier.byKind(alert.KindUnknownTaskType), 1)
}

func TestProcessMissingTask(t *testing.T) {
	p, _, _, _ := newTestProcessor(t)

	err := p.Process(context.Background(), "nope")
	assert.True(t, errs.IsNotFound(err))
}

func TestTerminalTaskIsImmutable(t *testing.T) {
	p, store, _, _ := newTestProcessor(t)
	seedTask(t, store, "inbox_reply")
	p.Register("inbox_reply", HandlerFunc(func(_ context.Context, _ *Task) (*Result, error) {
		return &Result{Status: ResultOK}, nil
	}))
	require.NoError(t, p.Process(context.Background(), "task-1"))

	// A redelivered job must not move the task out of COMPLETED.
	err := p.Process(context.Background(), "task-1")
	assert.True(t, IsNotClaimable(err))

	assert.ErrorIs(t, store.Complete(context.Background(), "task-1", nil), ErrTerminal)
	assert.ErrorIs(t, store.Fail(context.Background(), "task-1", "x"), ErrTerminal)
	assert.ErrorIs(t, store.RecordAttempt(context.Background(), "task-1", 4), ErrTerminal)
}

func TestClaimIsExclusive(t *testing.T) {
	store := NewMemoryStore()
	tk := New("task-1", "inbox_reply", nil)
	require.NoError(t, store.Create(context.Background(), tk))

	_, err := store.Claim(context.Background(), "task-1")
	require.NoError(t, err)

	_, err = store.Claim(context.Background(), "task-1")
	assert.ErrorIs(t, err, ErrNotClaimable)
}

func TestAttemptCountNeverExceedsBudget(t *testing.T) {
	store := NewMemoryStore()
	tk := New("task-1", "inbox_reply", nil)
	require.NoError(t, store.Create(context.Background(), tk))
	_, err := store.Claim(context.Background(), "task-1")
	require.NoError(t, err)

	require.NoError(t, store.RecordAttempt(context.Background(), "task-1", 3))
	assert.Error(t, store.RecordAttempt(context.Background(), "task-1", 4))
}
