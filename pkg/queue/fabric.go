// Package queue provides the durable work-queue fabric the orchestration
// layer runs on. Queues are named, Redis-backed, and carry a per-job
// retry/backoff policy. Features:
//   - Atomic job claiming with BLMove into a per-queue processing list
//   - Fixed or exponential backoff retry via a delayed sorted set
//   - Dead-letter retention for exhausted jobs
//   - Lua-scripted promotion of due delayed jobs
//
// When the broker is unreachable at startup the fabric degrades to a
// no-op stub: enqueues are logged and acknowledged, nothing is delivered,
// and callers keep functioning synchronously-degraded instead of
// crashing.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talentflow/orchestrator/pkg/jobs"
	"github.com/talentflow/orchestrator/pkg/logger"
)

// ErrEmpty is returned by Dequeue when no job became available within
// the claim window.
var ErrEmpty = errors.New("queue: no job available")

// Fabric is the contract workers and producers share. Producers only
// ever call Enqueue; the remaining verbs belong to the consumer loop.
type Fabric interface {
	Enqueue(ctx context.Context, queue string, payload any, opts jobs.Options) (*jobs.Job, error)
	Dequeue(ctx context.Context, queue string) (*jobs.Job, string, error)

	// Complete acknowledges a finished job, honoring RetainOnSuccess.
	Complete(ctx context.Context, job *jobs.Job, raw string) error
	// Retry schedules redelivery after the job's backoff and returns the
	// job with its attempt counter advanced.
	Retry(ctx context.Context, job *jobs.Job, raw string) (*jobs.Job, error)
	// Fail dead-letters a job whose attempt budget is spent.
	Fail(ctx context.Context, job *jobs.Job, raw string) error

	Depths(ctx context.Context, queues ...string) map[string]int64
	// RunDelayedMover promotes due delayed jobs back onto their queues.
	// Blocks until ctx is cancelled.
	RunDelayedMover(ctx context.Context, queues ...string)

	Degraded() bool
}

// New connects to the broker and returns the Redis-backed fabric. If the
// broker does not answer a short ping the degraded stub is returned
// instead; business paths must not crash merely because async
// infrastructure is down.
func New(addr, password string) Fabric {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Log.Warn().Err(err).Str("addr", addr).
			Msg("Broker unreachable, queue fabric running in stub mode")
		return newStub()
	}

	return newRedisFabric(rdb)
}
