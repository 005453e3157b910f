package signature

import "context"

// SendRequest carries everything a provider needs to open an envelope.
type SendRequest struct {
	ContractID  string
	DocumentURL string
	SignerEmail string
	SignerName  string
}

// Callback is a provider webhook notification after parsing.
type Callback struct {
	EnvelopeID string
	Event      string
}

// Provider abstracts an e-signature backend. Implementations return
// ProviderError so callers can tell transient failures from terminal
// ones.
type Provider interface {
	Name() string
	// SendSignatureRequest opens an envelope and returns its id.
	SendSignatureRequest(ctx context.Context, req SendRequest) (string, error)
	// SignedDocument downloads the executed document for an envelope.
	SignedDocument(ctx context.Context, envelopeID string) ([]byte, error)
	// ParseCallback validates and decodes a raw webhook body.
	ParseCallback(raw []byte) (Callback, error)
}
