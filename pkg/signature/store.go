package signature

import (
	"context"
	"errors"
	"time"
)

// ErrTerminal is returned for writes against a request that already
// reached a terminal status.
var ErrTerminal = errors.New("signature request is terminal")

// Store persists signature requests.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	// GetByEnvelope resolves a provider envelope id to its request.
	GetByEnvelope(ctx context.Context, envelopeID string) (*Request, error)
	// MarkSent records the envelope id and moves pending to sent.
	MarkSent(ctx context.Context, id, envelopeID string) error
	// SetStatus transitions a non-terminal request.
	SetStatus(ctx context.Context, id string, status Status) error
	// ListInFlight returns pending and sent requests for a contract.
	ListInFlight(ctx context.Context, contractID string) ([]*Request, error)
	// ListStalePending returns pending requests last touched before the
	// cutoff, i.e. rows whose provider call never concluded.
	ListStalePending(ctx context.Context, cutoff time.Time) ([]*Request, error)
}
