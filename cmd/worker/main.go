// Package main implements the orchestration worker.
//
// The worker consumes the durable queues, drives reviews and tasks to
// terminal states, and owns the background machinery: the delayed-job
// mover, the signature reconciliation schedule, and Prometheus metrics
// on METRICS_ADDR (default :8080).
//
// Failed jobs are retried through the queue fabric per their backoff
// policy until the attempt budget is spent, then dead-lettered. Shutdown
// is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/talentflow/orchestrator/pkg/alert"
	"github.com/talentflow/orchestrator/pkg/analysis"
	"github.com/talentflow/orchestrator/pkg/config"
	"github.com/talentflow/orchestrator/pkg/errs"
	"github.com/talentflow/orchestrator/pkg/jobs"
	"github.com/talentflow/orchestrator/pkg/logger"
	"github.com/talentflow/orchestrator/pkg/queue"
	"github.com/talentflow/orchestrator/pkg/review"
	"github.com/talentflow/orchestrator/pkg/signature"
	"github.com/talentflow/orchestrator/pkg/task"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_jobs_processed_total",
		Help: "The total number of processed jobs",
	}, []string{"status", "queue"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_job_duration_seconds",
		Help:    "Duration of job processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orchestrator_queue_depth",
		Help: "Number of jobs waiting in each queue",
	}, []string{"queue"})

	// queueLatency is the time between enqueue and claim, the leading
	// indicator of consumer backlog.
	queueLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_queue_latency_seconds",
		Help:    "Time spent in queue before processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})
)

// jobHandler executes one claimed job. A nil return acknowledges it; an
// error routes it through the retry/dead-letter policy.
type jobHandler func(ctx context.Context, job *jobs.Job) error

// consume runs the claim loop for one queue until the context ends.
func consume(ctx context.Context, fabric queue.Fabric, queueName string, handle jobHandler) error {
	for {
		job, raw, err := fabric.Dequeue(ctx, queueName)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, queue.ErrEmpty) {
				logger.Log.Error().Err(err).Str("queue", queueName).Msg("Dequeue failed")
				time.Sleep(time.Second)
			}
			continue
		}

		queueLatency.WithLabelValues(queueName).Observe(time.Since(job.EnqueuedAt).Seconds())

		start := time.Now()
		err = handle(ctx, job)
		jobDuration.WithLabelValues(queueName).Observe(time.Since(start).Seconds())

		if err == nil {
			if err := fabric.Complete(ctx, job, raw); err != nil {
				logger.Log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to acknowledge job")
			}
			jobsProcessed.WithLabelValues("success", queueName).Inc()
			continue
		}

		logger.Log.Warn().
			Err(err).
			Str("queue", queueName).
			Str("job_id", job.ID).
			Int("attempt", job.Attempt+1).
			Msg("Job failed")

		if errs.IsRetryable(err) && job.Attempt < job.Options.MaxAttempts-1 {
			if _, err := fabric.Retry(ctx, job, raw); err != nil {
				logger.Log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to schedule retry")
			}
			jobsProcessed.WithLabelValues("retry", queueName).Inc()
			continue
		}

		if err := fabric.Fail(ctx, job, raw); err != nil {
			logger.Log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to dead-letter job")
		}
		jobsProcessed.WithLabelValues("failed", queueName).Inc()
	}
}

// collectQueueMetrics refreshes the depth gauges every 5 seconds.
func collectQueueMetrics(ctx context.Context, fabric queue.Fabric, queues ...string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, depth := range fabric.Depths(ctx, queues...) {
				queueDepth.WithLabelValues(name).Set(float64(depth))
			}
		}
	}
}

func reviewHandler(pipeline *review.Pipeline, store review.Store) jobHandler {
	return func(ctx context.Context, job *jobs.Job) error {
		var j review.Job
		if err := job.Bind(&j); err != nil {
			return errs.Terminal("worker", "bind", err)
		}
		err := pipeline.Run(ctx, j.ReviewID)
		if errors.Is(err, review.ErrNotClaimable) {
			// Another worker owns it or it already settled.
			return nil
		}
		return err
	}
}

func taskHandler(processor *task.Processor) jobHandler {
	return func(ctx context.Context, job *jobs.Job) error {
		var j task.Job
		if err := job.Bind(&j); err != nil {
			return errs.Terminal("worker", "bind", err)
		}
		err := processor.Process(ctx, j.TaskID)
		if task.IsNotClaimable(err) {
			return nil
		}
		return err
	}
}

func reminderHandler() jobHandler {
	return func(_ context.Context, job *jobs.Job) error {
		var r review.DeliverableReminder
		if err := job.Bind(&r); err != nil {
			return errs.Terminal("worker", "bind", err)
		}
		logger.Log.Info().
			Str("review_id", r.ReviewID).
			Str("owner_id", r.OwnerID).
			Str("title", r.Title).
			Str("due_date", r.DueDate).
			Msg("Deliverable reminder scheduled")
		return nil
	}
}

func signatureHandler(orchestrator *signature.Orchestrator) jobHandler {
	return func(ctx context.Context, job *jobs.Job) error {
		var j signature.Job
		if err := job.Bind(&j); err != nil {
			return errs.Terminal("worker", "bind", err)
		}
		_, err := orchestrator.Initiate(ctx, signature.InitiateParams{
			ContractID:  j.ContractID,
			OwnerID:     j.OwnerID,
			DocumentURL: j.DocumentURL,
			SignerEmail: j.SignerEmail,
			SignerName:  j.SignerName,
		})
		return err
	}
}

func buildStores(ctx context.Context, cfg config.Config) (task.Store, review.Store, signature.Store) {
	if cfg.PostgresDSN == "" {
		logger.Log.Info().Msg("POSTGRES_DSN not set, using in-memory stores")
		return task.NewMemoryStore(), review.NewMemoryStore(), signature.NewMemoryStore()
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to Postgres")
	}
	return task.NewPGStore(pool), review.NewPGStore(pool), signature.NewPGStore(pool)
}

func buildProvider(cfg config.Config) signature.Provider {
	if cfg.SignatureProvider == "hosted" && cfg.SignatureBaseURL != "" {
		return signature.NewHosted(cfg.SignatureBaseURL, cfg.SignatureAPIKey)
	}
	return signature.NewSelfHosted()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	fabric := queue.New(cfg.RedisAddr, cfg.RedisPassword)
	taskStore, reviewStore, sigStore := buildStores(ctx, cfg)
	alerts := alert.FromConfig(cfg.AlertWebhookURL)

	analyzer := analysis.NewOpenAIClient(cfg.AnalysisBaseURL, cfg.AnalysisAPIKey, cfg.AnalysisModel)
	pipeline := review.NewPipeline(reviewStore, analyzer, fabric, alerts,
		review.WithRiskThreshold(cfg.RiskAlertThreshold),
		review.WithStageTimeout(cfg.StageTimeout),
	)

	processor := task.NewProcessor(taskStore, nil, alerts)
	registerTaskHandlers(processor)

	signatures := signature.NewOrchestrator(sigStore, buildProvider(cfg), nil, alerts)

	// Metrics server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Log.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics server listening")
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	// Signature reconciliation: re-drive pending rows whose provider call
	// never concluded.
	scheduler := cron.New()
	scheduler.AddFunc("@every 5m", func() {
		signatures.ReconcileStale(ctx, 10*time.Minute)
	})
	scheduler.Start()
	defer scheduler.Stop()

	handlers := map[string]jobHandler{
		review.QueueReviews:      reviewHandler(pipeline, reviewStore),
		task.Queue:               taskHandler(processor),
		review.QueueDeliverables: reminderHandler(),
		signature.Queue:          signatureHandler(signatures),
	}

	queues := make([]string, 0, len(handlers))
	for name := range handlers {
		queues = append(queues, name)
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, handle := range handlers {
		g.Go(func() error { return consume(gctx, fabric, name, handle) })
	}
	g.Go(func() error {
		fabric.RunDelayedMover(gctx, queues...)
		return nil
	})
	g.Go(func() error {
		collectQueueMetrics(gctx, fabric, queues...)
		return nil
	})

	logger.Log.Info().Strs("queues", queues).Msg("Worker started. Waiting for jobs...")
	if err := g.Wait(); err != nil {
		logger.Log.Fatal().Err(err).Msg("Worker failed")
	}
	logger.Log.Info().Msg("Worker shut down")
}

// registerTaskHandlers binds the orchestrated task types. Handlers for
// types owned by other services land here as they are migrated; unknown
// types resolve as no-op "unsupported" so the loop never wedges.
func registerTaskHandlers(p *task.Processor) {
	p.Register("deliverable_reminder_digest", task.HandlerFunc(func(_ context.Context, t *task.Task) (*task.Result, error) {
		logger.Log.Info().Str("task_id", t.ID).Msg("Building deliverable reminder digest")
		return &task.Result{Status: task.ResultOK}, nil
	}))
}
