package signature

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talentflow/orchestrator/pkg/alert"
	"github.com/talentflow/orchestrator/pkg/errs"
	"github.com/talentflow/orchestrator/pkg/logger"
)

// ContractNotifier is told when a signature cycle changes state so the
// parent contract record can follow. Delivery is fire-and-forget.
type ContractNotifier interface {
	SignatureUpdated(ctx context.Context, contractID, requestID string, status Status)
}

// LogContractNotifier just logs the transition.
type LogContractNotifier struct{}

func (LogContractNotifier) SignatureUpdated(_ context.Context, contractID, requestID string, status Status) {
	logger.Log.Info().
		Str("contract_id", contractID).
		Str("request_id", requestID).
		Str("status", string(status)).
		Msg("Contract signature status updated")
}

// InitiateParams describes a new signature cycle.
type InitiateParams struct {
	ContractID  string
	OwnerID     string
	DocumentURL string
	SignerEmail string
	SignerName  string
}

// Orchestrator runs signature cycles against whichever provider it was
// constructed with.
type Orchestrator struct {
	store     Store
	provider  Provider
	contracts ContractNotifier
	alerts    alert.Notifier
}

func NewOrchestrator(store Store, provider Provider, contracts ContractNotifier, alerts alert.Notifier) *Orchestrator {
	o := &Orchestrator{store: store, provider: provider, contracts: contracts, alerts: alerts}
	if o.contracts == nil {
		o.contracts = LogContractNotifier{}
	}
	if o.alerts == nil {
		o.alerts = alert.LogNotifier{}
	}
	return o
}

// Initiate starts a signature cycle: supersede any in-flight request for
// the contract, persist a pending row, then call the provider. The row
// goes in before the send so a crash mid-call leaves a durable record
// for the reconciler instead of a silently lost envelope.
func (o *Orchestrator) Initiate(ctx context.Context, p InitiateParams) (*Request, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	inflight, err := o.store.ListInFlight(ctx, p.ContractID)
	if err != nil {
		return nil, err
	}
	for _, prev := range inflight {
		if err := o.store.SetStatus(ctx, prev.ID, StatusSuperseded); err != nil {
			logger.Log.Error().Err(err).Str("request_id", prev.ID).Msg("Failed to supersede signature request")
			continue
		}
		o.contracts.SignatureUpdated(ctx, prev.ContractID, prev.ID, StatusSuperseded)
	}

	now := time.Now()
	r := &Request{
		ID:          uuid.New().String(),
		ContractID:  p.ContractID,
		OwnerID:     p.OwnerID,
		Provider:    o.provider.Name(),
		DocumentURL: p.DocumentURL,
		SignerEmail: p.SignerEmail,
		SignerName:  p.SignerName,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.Create(ctx, r); err != nil {
		return nil, err
	}

	envelopeID, err := o.send(ctx, r)
	if err != nil {
		return nil, err
	}
	r.EnvelopeID = envelopeID
	r.Status = StatusSent
	o.contracts.SignatureUpdated(ctx, r.ContractID, r.ID, StatusSent)

	logger.Log.Info().
		Str("request_id", r.ID).
		Str("contract_id", r.ContractID).
		Str("envelope_id", envelopeID).
		Msg("Signature request sent")
	return r, nil
}

// HandleCallback applies a provider webhook. Replays are no-ops: a
// request already in the reported status, or already terminal, is left
// untouched.
func (o *Orchestrator) HandleCallback(ctx context.Context, raw []byte) error {
	cb, err := o.provider.ParseCallback(raw)
	if err != nil {
		return err
	}
	status := mapEvent(cb.Event)
	if status == "" {
		logger.Log.Warn().Str("event", cb.Event).Msg("Ignoring unknown signature event")
		return nil
	}

	r, err := o.store.GetByEnvelope(ctx, cb.EnvelopeID)
	if err != nil {
		return err
	}
	if r.Status == status || r.Status.Terminal() {
		logger.Log.Debug().
			Str("request_id", r.ID).
			Str("event", cb.Event).
			Msg("Signature callback replay ignored")
		return nil
	}

	if err := o.store.SetStatus(ctx, r.ID, status); err != nil {
		return err
	}
	o.contracts.SignatureUpdated(ctx, r.ContractID, r.ID, status)

	logger.Log.Info().
		Str("request_id", r.ID).
		Str("contract_id", r.ContractID).
		Str("status", string(status)).
		Msg("Signature request updated from callback")
	return nil
}

// SignedDocument downloads the executed document for a signed request.
func (o *Orchestrator) SignedDocument(ctx context.Context, requestID string) ([]byte, error) {
	r, err := o.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusSigned {
		return nil, errs.Validation("status", "request is not signed")
	}
	return o.provider.SignedDocument(ctx, r.EnvelopeID)
}

// ReconcileStale re-drives pending rows whose provider call never
// concluded. Failures are logged and retried on the next sweep.
func (o *Orchestrator) ReconcileStale(ctx context.Context, olderThan time.Duration) {
	stale, err := o.store.ListStalePending(ctx, time.Now().Add(-olderThan))
	if err != nil {
		logger.Log.Error().Err(err).Msg("Failed to list stale signature requests")
		return
	}
	for _, r := range stale {
		if _, err := o.send(ctx, r); err != nil {
			logger.Log.Error().Err(err).Str("request_id", r.ID).Msg("Signature reconciliation send failed")
			continue
		}
		o.contracts.SignatureUpdated(ctx, r.ContractID, r.ID, StatusSent)
		logger.Log.Info().Str("request_id", r.ID).Msg("Stale signature request re-driven")
	}
}

// send calls the provider and records the envelope. The pending row is
// left in place on failure so reconciliation can pick it up.
func (o *Orchestrator) send(ctx context.Context, r *Request) (string, error) {
	envelopeID, err := o.provider.SendSignatureRequest(ctx, SendRequest{
		ContractID:  r.ContractID,
		DocumentURL: r.DocumentURL,
		SignerEmail: r.SignerEmail,
		SignerName:  r.SignerName,
	})
	if err != nil {
		logger.Log.Error().Err(err).Str("request_id", r.ID).Msg("Signature provider send failed")
		o.alerts.Notify(ctx, alert.Event{
			Kind:    alert.KindProviderFailure,
			Message: "Signature provider send failed",
			Fields:  map[string]any{"request_id": r.ID, "contract_id": r.ContractID, "provider": o.provider.Name()},
		})
		return "", err
	}
	if err := o.store.MarkSent(ctx, r.ID, envelopeID); err != nil {
		return "", err
	}
	return envelopeID, nil
}

func (p InitiateParams) validate() error {
	if p.ContractID == "" {
		return errs.Validation("contractId", "is required")
	}
	if p.DocumentURL == "" {
		return errs.Validation("documentUrl", "is required")
	}
	if p.SignerEmail == "" || !strings.Contains(p.SignerEmail, "@") {
		return errs.Validation("signerEmail", "must be a valid email address")
	}
	return nil
}
