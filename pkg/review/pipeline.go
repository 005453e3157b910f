package review

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/talentflow/orchestrator/pkg/alert"
	"github.com/talentflow/orchestrator/pkg/analysis"
	"github.com/talentflow/orchestrator/pkg/errs"
	"github.com/talentflow/orchestrator/pkg/jobs"
	"github.com/talentflow/orchestrator/pkg/logger"
	"github.com/talentflow/orchestrator/pkg/queue"
)

// Queue names the pipeline fans work out to.
const (
	QueueReviews      = "contract-review"
	QueueDeliverables = "deliverable-reminders"
)

const (
	defaultRiskThreshold = 7
	defaultStageTimeout  = 60 * time.Second
)

// Job is the queue payload that names a review to run.
type Job struct {
	ReviewID string `json:"review_id"`
}

// DeliverableReminder is the payload enqueued per extracted deliverable
// so the reminder worker can schedule follow-ups.
type DeliverableReminder struct {
	ReviewID    string `json:"review_id"`
	OwnerID     string `json:"owner_id"`
	Title       string `json:"title"`
	DueDate     string `json:"due_date,omitempty"`
	Platform    string `json:"platform,omitempty"`
	Description string `json:"description,omitempty"`
}

// Pipeline drives a contract review through its stages: ingest the
// document, extract text, analyze, persist findings and branch. Every
// dependency arrives at construction; nothing is resolved from globals.
type Pipeline struct {
	store    Store
	analyzer analysis.Analyzer
	fabric   queue.Fabric
	alerts   alert.Notifier
	docs     *resty.Client

	riskThreshold int
	stageTimeout  time.Duration
}

// Option tunes pipeline policy.
type Option func(*Pipeline)

// WithRiskThreshold sets the score at which an operator alert fires.
func WithRiskThreshold(n int) Option {
	return func(p *Pipeline) { p.riskThreshold = n }
}

// WithStageTimeout bounds each provider call.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.stageTimeout = d }
}

// WithHTTPClient replaces the document fetch client (tests).
func WithHTTPClient(c *resty.Client) Option {
	return func(p *Pipeline) { p.docs = c }
}

func NewPipeline(store Store, analyzer analysis.Analyzer, fabric queue.Fabric, alerts alert.Notifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:         store,
		analyzer:      analyzer,
		fabric:        fabric,
		alerts:        alerts,
		riskThreshold: defaultRiskThreshold,
		stageTimeout:  defaultStageTimeout,
	}
	if p.alerts == nil {
		p.alerts = alert.LogNotifier{}
	}
	p.docs = resty.New()
	p.docs.SetTimeout(defaultStageTimeout)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the pipeline for one review. Stage failures mark the
// review failed and re-raise: a silently-failed analysis is worse than a
// visibly failed one, and the queue layer owns the retry budget.
func (p *Pipeline) Run(ctx context.Context, reviewID string) error {
	r, err := p.store.Claim(ctx, reviewID)
	if err != nil {
		return err
	}

	log := logger.Log.With().Str("review_id", r.ID).Logger()
	log.Info().Str("document_ref", r.DocumentRef).Msg("Contract review started")

	data, err := p.ingest(ctx, r.DocumentRef)
	if err != nil {
		return p.fail(ctx, r, "ingest", err)
	}

	text, err := ExtractText(data, r.DocumentRef)
	if err != nil {
		return p.fail(ctx, r, "extract", errs.Terminal("extractor", "extract", err))
	}
	if err := p.store.SaveText(ctx, r.ID, text); err != nil {
		return p.fail(ctx, r, "extract", err)
	}

	result, err := p.analyze(ctx, text)
	if err != nil {
		return p.fail(ctx, r, "analyze", err)
	}

	if err := p.persist(ctx, r, result); err != nil {
		return p.fail(ctx, r, "persist", err)
	}

	log.Info().
		Int("risk_score", result.Findings.RiskScore).
		Int("deliverables", len(result.Findings.Deliverables)).
		Msg("Contract review processed")
	return nil
}

// ingest fetches the raw document bytes. Non-success statuses become
// transient fetch errors: a 404 from a document store behind a CDN is as
// likely a propagation delay as a genuinely missing file.
func (p *Pipeline) ingest(ctx context.Context, url string) ([]byte, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	resp, err := p.docs.R().SetContext(stageCtx).Get(url)
	if err != nil {
		return nil, errs.Transient("document-store", "fetch", err)
	}
	if resp.IsError() {
		return nil, errs.Transient("document-store", "fetch",
			fmt.Errorf("fetch %s: status %d", url, resp.StatusCode()))
	}
	return resp.Body(), nil
}

func (p *Pipeline) analyze(ctx context.Context, text string) (*analysis.Result, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()
	return p.analyzer.Analyze(stageCtx, text)
}

// persist writes findings as a single object (re-runs replace, never
// append), records the audit entry, and branches: a high risk score
// raises an operator alert and each deliverable fans out a reminder job.
func (p *Pipeline) persist(ctx context.Context, r *ContractReview, result *analysis.Result) error {
	f := result.Findings
	if err := p.store.Complete(ctx, r.ID, &f, f.RiskScore); err != nil {
		return err
	}

	entry := TimelineEntry{
		At:     time.Now(),
		Event:  "analysis_completed",
		Detail: fmt.Sprintf("risk score %d, %d deliverables", f.RiskScore, len(f.Deliverables)),
	}
	if err := p.store.AppendTimeline(ctx, r.ID, entry); err != nil {
		return err
	}

	logger.Log.Info().
		Str("review_id", r.ID).
		Int("prompt_tokens", result.Usage.PromptTokens).
		Int("completion_tokens", result.Usage.CompletionTokens).
		Msg("Analysis usage recorded")

	if f.RiskScore >= p.riskThreshold {
		p.alerts.Notify(ctx, alert.Event{
			Kind:    alert.KindHighRisk,
			Message: "Contract analysis flagged high risk",
			Fields: map[string]any{
				"review_id":  r.ID,
				"owner_id":   r.OwnerID,
				"risk_score": f.RiskScore,
				"summary":    f.Summary,
			},
		})
	}

	if p.fabric != nil {
		for _, d := range f.Deliverables {
			reminder := DeliverableReminder{
				ReviewID:    r.ID,
				OwnerID:     r.OwnerID,
				Title:       d.Title,
				DueDate:     d.DueDate,
				Platform:    d.Platform,
				Description: d.Description,
			}
			if _, err := p.fabric.Enqueue(ctx, QueueDeliverables, reminder, jobs.DefaultOptions()); err != nil {
				// Reminders are best-effort fan-out; the review itself
				// already settled.
				logger.Log.Error().Err(err).Str("review_id", r.ID).Msg("Failed to enqueue deliverable reminder")
			}
		}
	}
	return nil
}

// fail marks the review failed, appends the audit entry, and re-raises
// the original error for the queue layer to count against the budget.
func (p *Pipeline) fail(ctx context.Context, r *ContractReview, stage string, cause error) error {
	msg := fmt.Sprintf("%s: %v", stage, cause)
	if err := p.store.Fail(ctx, r.ID, msg); err != nil {
		logger.Log.Error().Err(err).Str("review_id", r.ID).Msg("Failed to persist review failure")
	}
	if err := p.store.AppendTimeline(ctx, r.ID, TimelineEntry{
		At:     time.Now(),
		Event:  "analysis_failed",
		Detail: msg,
	}); err != nil {
		logger.Log.Error().Err(err).Str("review_id", r.ID).Msg("Failed to append failure timeline entry")
	}

	p.alerts.Notify(ctx, alert.Event{
		Kind:    alert.KindProviderFailure,
		Message: "Contract review stage failed",
		Fields:  map[string]any{"review_id": r.ID, "stage": stage, "error": cause.Error()},
	})
	return fmt.Errorf("review %s failed at %s: %w", r.ID, stage, cause)
}
