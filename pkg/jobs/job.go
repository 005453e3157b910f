// Package jobs defines the envelope for deferred work submitted to the
// queue fabric. A job is immutable once enqueued; only the fabric
// increments its attempt counter when scheduling a retry.
package jobs

import (
	"encoding/json"
	"time"
)

// Backoff kinds supported by the fabric.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Backoff describes how long to wait before redelivering a failed job.
type Backoff struct {
	Kind  string        `json:"kind"`
	Delay time.Duration `json:"delay"`
}

// Next returns the delay before the given attempt (1-based: attempt 1 is
// the first retry). Exponential doubles the base delay per prior attempt,
// matching the broker defaults the product shipped with.
func (b Backoff) Next(attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	switch b.Kind {
	case BackoffExponential:
		if attempt < 1 {
			attempt = 1
		}
		return b.Delay * time.Duration(1<<(attempt-1))
	default:
		return b.Delay
	}
}

// Options carries the per-job retry and disposal policy.
type Options struct {
	// MaxAttempts is the total delivery budget, first attempt included.
	MaxAttempts int `json:"max_attempts"`

	Backoff Backoff `json:"backoff"`

	// RetainOnSuccess keeps the finished job on the done list for
	// inspection instead of dropping it.
	RetainOnSuccess bool `json:"retain_on_success"`

	// RetainOnFailure keeps exhausted jobs on the dead-letter list so an
	// operator can inspect and replay them.
	RetainOnFailure bool `json:"retain_on_failure"`
}

// DefaultOptions mirrors the product's broker defaults: three attempts,
// exponential backoff from two seconds, drop on success, keep failures.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:     3,
		Backoff:         Backoff{Kind: BackoffExponential, Delay: 2 * time.Second},
		RetainOnSuccess: false,
		RetainOnFailure: true,
	}
}

// Job is the unit of deferred work owned by the fabric until a worker
// claims it.
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	Options    Options         `json:"options"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Bind unmarshals the job payload into v.
func (j *Job) Bind(v any) error {
	return json.Unmarshal(j.Payload, v)
}
