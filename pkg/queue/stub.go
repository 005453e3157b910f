package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/talentflow/orchestrator/pkg/jobs"
	"github.com/talentflow/orchestrator/pkg/logger"
)

// stubFabric accepts enqueues, logs them, and delivers nothing. It exists
// so the ingress path keeps answering when the broker is down: losing
// async delivery is recoverable, crashing the request path is not.
type stubFabric struct{}

func newStub() *stubFabric { return &stubFabric{} }

func (s *stubFabric) Degraded() bool { return true }

func (s *stubFabric) Enqueue(_ context.Context, queue string, payload any, opts jobs.Options) (*jobs.Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	job := &jobs.Job{
		ID:         uuid.NewString(),
		Queue:      queue,
		Payload:    body,
		Options:    opts,
		EnqueuedAt: time.Now(),
	}
	logger.Log.Warn().
		Str("queue", queue).
		Str("job_id", job.ID).
		RawJSON("payload", body).
		Msg("Broker degraded, job accepted but not delivered")
	return job, nil
}

// Dequeue blocks until the context is cancelled; a worker pointed at a
// stub fabric idles instead of hot-looping.
func (s *stubFabric) Dequeue(ctx context.Context, _ string) (*jobs.Job, string, error) {
	<-ctx.Done()
	return nil, "", ctx.Err()
}

func (s *stubFabric) Complete(context.Context, *jobs.Job, string) error { return nil }

func (s *stubFabric) Retry(_ context.Context, job *jobs.Job, _ string) (*jobs.Job, error) {
	next := *job
	next.Attempt++
	return &next, nil
}

func (s *stubFabric) Fail(context.Context, *jobs.Job, string) error { return nil }

func (s *stubFabric) Depths(context.Context, ...string) map[string]int64 {
	return map[string]int64{}
}

func (s *stubFabric) RunDelayedMover(ctx context.Context, _ ...string) {
	<-ctx.Done()
}
