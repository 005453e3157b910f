package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/talentflow/orchestrator/pkg/alert"
	"github.com/talentflow/orchestrator/pkg/errs"
	"github.com/talentflow/orchestrator/pkg/logger"
)

// ResultStatus values a handler can report.
const (
	ResultOK          = "ok"
	ResultUnsupported = "unsupported"
)

// Result is the outcome a handler returns on success.
type Result struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Usage  Usage  `json:"-"`
}

// Handler executes one task type. Implementations return a typed error
// from pkg/errs so the processor can tell retryable failures from
// terminal ones.
type Handler interface {
	Handle(ctx context.Context, t *Task) (*Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, t *Task) (*Result, error)

func (f HandlerFunc) Handle(ctx context.Context, t *Task) (*Result, error) { return f(ctx, t) }

// Processor is the task state machine. It owns every status transition:
// a worker hands it a task id and gets back a terminal, audited outcome.
type Processor struct {
	store    Store
	handlers map[string]Handler
	usage    UsageRecorder
	alerts   alert.Notifier

	// retryDelay is the pause between in-process attempts. The product
	// default is zero: attempts re-run immediately and backoff belongs
	// to the queue layer.
	retryDelay time.Duration
}

func NewProcessor(store Store, usage UsageRecorder, alerts alert.Notifier) *Processor {
	if usage == nil {
		usage = LogUsageRecorder{}
	}
	if alerts == nil {
		alerts = alert.LogNotifier{}
	}
	return &Processor{
		store:    store,
		handlers: make(map[string]Handler),
		usage:    usage,
		alerts:   alerts,
	}
}

// Register binds a handler to a task type. Not safe for concurrent use
// with Process; registration happens during worker startup.
func (p *Processor) Register(taskType string, h Handler) {
	p.handlers[taskType] = h
}

// SetRetryDelay overrides the pause between in-process attempts.
func (p *Processor) SetRetryDelay(d time.Duration) { p.retryDelay = d }

// Process drives one task to a terminal state.
//
// The flow is strict: load (NotFoundError if absent), atomically claim
// PENDING -> RUNNING, then attempt execution up to MaxAttempts. Each
// attempt count is persisted before the attempt runs, so a crash
// mid-retry leaves the task observably RUNNING with a known count. The
// first success persists COMPLETED plus the result and reports usage
// telemetry; exhaustion persists FAILED and raises exactly one operator
// alert.
//
// A terminal outcome, including FAILED, returns nil: the failure is
// recorded and alerted, and redelivering the job would change nothing.
// Errors are returned only when the outcome is unknown (missing task,
// lost claim race, store failure) so the queue layer can decide.
func (p *Processor) Process(ctx context.Context, id string) error {
	t, err := p.store.Get(ctx, id)
	if err != nil {
		return err
	}

	handler, ok := p.handlers[t.Type]
	if !ok {
		return p.resolveUnsupported(ctx, t)
	}

	claimed, err := p.store.Claim(ctx, id)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := claimed.AttemptCount + 1; attempt <= claimed.MaxAttempts; attempt++ {
		if err := p.store.RecordAttempt(ctx, id, attempt); err != nil {
			return err
		}

		res, err := handler.Handle(ctx, claimed)
		if err == nil {
			return p.complete(ctx, claimed, res)
		}

		lastErr = err
		logger.Log.Warn().
			Err(err).
			Str("task_id", id).
			Str("type", claimed.Type).
			Int("attempt", attempt).
			Msg("Task attempt failed")

		if !errs.IsRetryable(err) {
			break
		}
		if p.retryDelay > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = claimed.MaxAttempts // stop looping
			case <-time.After(p.retryDelay):
			}
		}
	}

	return p.exhaust(ctx, claimed, lastErr)
}

func (p *Processor) complete(ctx context.Context, t *Task, res *Result) error {
	if res == nil {
		res = &Result{Status: ResultOK}
	}
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := p.store.Complete(ctx, t.ID, body); err != nil {
		return err
	}
	if !res.Usage.zero() {
		p.usage.Record(ctx, t.Type, res.Usage)
	}
	logger.Log.Info().Str("task_id", t.ID).Str("type", t.Type).Msg("Task completed")
	return nil
}

// resolveUnsupported settles a task with no registered handler as a
// no-op "unsupported" result. Polymorphic dispatch degrades safely; the
// worker loop must not crash over a type it does not know.
func (p *Processor) resolveUnsupported(ctx context.Context, t *Task) error {
	if _, err := p.store.Claim(ctx, t.ID); err != nil {
		return err
	}
	body, _ := json.Marshal(&Result{Status: ResultUnsupported})
	if err := p.store.Complete(ctx, t.ID, body); err != nil {
		return err
	}
	p.alerts.Notify(ctx, alert.Event{
		Kind:    alert.KindUnknownTaskType,
		Message: "Task resolved as unsupported: no handler registered",
		Fields:  map[string]any{"task_id": t.ID, "type": t.Type},
	})
	return nil
}

func (p *Processor) exhaust(ctx context.Context, t *Task, cause error) error {
	summary := "all attempts failed"
	if cause != nil {
		summary = cause.Error()
	}
	if err := p.store.Fail(ctx, t.ID, summary); err != nil {
		return err
	}
	p.alerts.Notify(ctx, alert.Event{
		Kind:    alert.KindTaskExhausted,
		Message: "Task failed permanently",
		Fields:  map[string]any{"task_id": t.ID, "type": t.Type, "error": summary},
	})
	return nil
}

// IsNotClaimable reports whether err means another worker owns the task
// or it already settled. Consumers treat that as success: the outcome
// exists or is being produced elsewhere.
func IsNotClaimable(err error) bool {
	return errors.Is(err, ErrNotClaimable)
}
