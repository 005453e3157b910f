package task

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotClaimable is returned by Claim when the task is not in PENDING:
// either another worker already owns it or it has reached a terminal
// state.
var ErrNotClaimable = errors.New("task: not claimable")

// ErrTerminal is returned on any attempt to mutate a COMPLETED or FAILED
// task.
var ErrTerminal = errors.New("task: already in a terminal state")

// Store persists tasks. Implementations must make Claim an atomic
// compare-and-set so two workers can never both win the same task, and
// must reject every write against a terminal task.
type Store interface {
	Create(ctx context.Context, t *Task) error
	// Get returns the task or an errs.NotFoundError.
	Get(ctx context.Context, id string) (*Task, error)
	// Claim transitions PENDING -> RUNNING atomically and stamps the
	// start time. Returns ErrNotClaimable when the task is not PENDING.
	Claim(ctx context.Context, id string) (*Task, error)
	// RecordAttempt durably writes the attempt counter before the
	// attempt executes, so a crash mid-retry leaves the task observably
	// RUNNING with a known count.
	RecordAttempt(ctx context.Context, id string, attempt int) error
	Complete(ctx context.Context, id string, result json.RawMessage) error
	Fail(ctx context.Context, id string, summary string) error
}
