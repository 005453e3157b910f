package review

import (
	"context"
	"errors"

	"github.com/talentflow/orchestrator/pkg/analysis"
)

// ErrNotClaimable is returned by Claim when the review is already being
// processed (or is mid-transition elsewhere).
var ErrNotClaimable = errors.New("review: not claimable")

// Store persists contract reviews. Claim must be an atomic CAS from
// submitted|failed to processing so concurrent pipeline runs over the
// same record are impossible; failed reviews stay claimable so a human
// can retry them.
type Store interface {
	Create(ctx context.Context, r *ContractReview) error
	// Get returns the review or an errs.NotFoundError.
	Get(ctx context.Context, id string) (*ContractReview, error)
	Claim(ctx context.Context, id string) (*ContractReview, error)
	SaveText(ctx context.Context, id, text string) error
	// Complete overwrites findings as one object (re-runs replace, never
	// append) and marks the review processed.
	Complete(ctx context.Context, id string, f *analysis.Findings, riskScore int) error
	Fail(ctx context.Context, id, cause string) error
	AppendTimeline(ctx context.Context, id string, entry TimelineEntry) error
}
