package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/talentflow/orchestrator/pkg/jobs"
	"github.com/talentflow/orchestrator/pkg/logger"
)

// Redis key scheme per named queue:
//   queue:<name>       ready list
//   processing:<name>  jobs claimed by a worker
//   delayed:<name>     sorted set of jobs awaiting redelivery
//   done:<name>        retained successful jobs (bounded)
//   dead:<name>        retained exhausted jobs
func readyKey(q string) string      { return "queue:" + q }
func processingKey(q string) string { return "processing:" + q }
func delayedKey(q string) string    { return "delayed:" + q }
func doneKey(q string) string       { return "done:" + q }
func deadKey(q string) string       { return "dead:" + q }

const doneRetention = 100

type redisFabric struct {
	rdb *redis.Client
}

func newRedisFabric(rdb *redis.Client) *redisFabric {
	return &redisFabric{rdb: rdb}
}

func (f *redisFabric) Degraded() bool { return false }

// Enqueue serializes the envelope and pushes it onto the named queue.
func (f *redisFabric) Enqueue(ctx context.Context, queue string, payload any, opts jobs.Options) (*jobs.Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = jobs.DefaultOptions().MaxAttempts
	}

	job := &jobs.Job{
		ID:         uuid.NewString(),
		Queue:      queue,
		Payload:    body,
		Options:    opts,
		EnqueuedAt: time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	if err := f.rdb.RPush(ctx, readyKey(queue), data).Err(); err != nil {
		return nil, err
	}

	logger.Log.Debug().Str("queue", queue).Str("job_id", job.ID).Msg("Job enqueued")
	return job, nil
}

// Dequeue atomically claims the next job by moving it onto the
// processing list. BLMove makes the claim safe under concurrent workers:
// each raw payload lands on exactly one worker. The raw string is the
// worker's receipt for Complete/Retry/Fail.
func (f *redisFabric) Dequeue(ctx context.Context, queue string) (*jobs.Job, string, error) {
	raw, err := f.rdb.BLMove(ctx, readyKey(queue), processingKey(queue), "LEFT", "RIGHT", 1*time.Second).Result()
	if err == redis.Nil {
		return nil, "", ErrEmpty
	}
	if err != nil {
		return nil, "", err
	}

	var job jobs.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// A malformed entry can never be processed; drop it from the
		// processing list so it does not sit there forever.
		f.rdb.LRem(ctx, processingKey(queue), 1, raw)
		return nil, "", err
	}
	return &job, raw, nil
}

func (f *redisFabric) Complete(ctx context.Context, job *jobs.Job, raw string) error {
	pipe := f.rdb.TxPipeline()
	pipe.LRem(ctx, processingKey(job.Queue), 1, raw)
	if job.Options.RetainOnSuccess {
		pipe.RPush(ctx, doneKey(job.Queue), raw)
		pipe.LTrim(ctx, doneKey(job.Queue), -doneRetention, -1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Retry advances the attempt counter and parks the job on the delayed
// set with a score of its redelivery time. The updated envelope and the
// processing-list removal go through one pipeline so a crash cannot
// duplicate the job.
func (f *redisFabric) Retry(ctx context.Context, job *jobs.Job, raw string) (*jobs.Job, error) {
	next := *job
	next.Attempt++

	delay := next.Options.Backoff.Next(next.Attempt)
	processAt := time.Now().Add(delay)

	data, err := json.Marshal(&next)
	if err != nil {
		return nil, err
	}

	pipe := f.rdb.TxPipeline()
	pipe.ZAdd(ctx, delayedKey(job.Queue), redis.Z{
		Score:  float64(processAt.UnixNano()),
		Member: data,
	})
	pipe.LRem(ctx, processingKey(job.Queue), 1, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	logger.Log.Info().
		Str("queue", job.Queue).
		Str("job_id", job.ID).
		Int("attempt", next.Attempt).
		Dur("delay", delay).
		Msg("Job scheduled for retry")
	return &next, nil
}

func (f *redisFabric) Fail(ctx context.Context, job *jobs.Job, raw string) error {
	pipe := f.rdb.TxPipeline()
	if job.Options.RetainOnFailure {
		pipe.RPush(ctx, deadKey(job.Queue), raw)
	}
	pipe.LRem(ctx, processingKey(job.Queue), 1, raw)
	_, err := pipe.Exec(ctx)
	return err
}

func (f *redisFabric) Depths(ctx context.Context, queues ...string) map[string]int64 {
	depths := make(map[string]int64)
	for _, q := range queues {
		for _, key := range []string{readyKey(q), processingKey(q), deadKey(q)} {
			if n, err := f.rdb.LLen(ctx, key).Result(); err == nil {
				depths[key] = n
			}
		}
		if n, err := f.rdb.ZCard(ctx, delayedKey(q)).Result(); err == nil {
			depths[delayedKey(q)] = n
		}
	}
	return depths
}

// moveDueScript atomically promotes every due job from a delayed set
// back onto its ready list. Atomicity matters when several workers run
// the mover concurrently: without it the same delayed job could be
// promoted twice.
var moveDueScript = redis.NewScript(`
	local delayed_key = KEYS[1]
	local ready_key = KEYS[2]
	local now = tonumber(ARGV[1])

	local due = redis.call('ZRANGEBYSCORE', delayed_key, '-inf', now)
	if #due > 0 then
		redis.call('ZREMRANGEBYSCORE', delayed_key, '-inf', now)
		for _, job in ipairs(due) do
			redis.call('RPUSH', ready_key, job)
		end
	end
	return #due
`)

// RunDelayedMover polls the delayed sets every 500ms and promotes due
// jobs. Blocks until ctx is cancelled.
func (f *redisFabric) RunDelayedMover(ctx context.Context, queues ...string) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := float64(time.Now().UnixNano())
			for _, q := range queues {
				_, err := moveDueScript.Run(ctx, f.rdb, []string{delayedKey(q), readyKey(q)}, now).Result()
				if err != nil && err != redis.Nil {
					logger.Log.Error().Err(err).Str("queue", q).Msg("Delayed mover error")
				}
			}
		}
	}
}
