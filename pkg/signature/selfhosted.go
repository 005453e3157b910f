package signature

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/talentflow/orchestrator/pkg/errs"
)

// SelfHosted is the built-in fallback when no external e-sign service is
// configured. Envelopes live in memory; signing is driven through the
// same callback path as the hosted provider.
type SelfHosted struct {
	mu        sync.Mutex
	envelopes map[string]*envelope
}

type envelope struct {
	req    SendRequest
	event  string
	signed []byte
}

func NewSelfHosted() *SelfHosted {
	return &SelfHosted{envelopes: make(map[string]*envelope)}
}

func (s *SelfHosted) Name() string { return "selfhosted" }

func (s *SelfHosted) SendSignatureRequest(_ context.Context, req SendRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New().String()
	s.envelopes[id] = &envelope{req: req, event: "sent"}
	return id, nil
}

func (s *SelfHosted) SignedDocument(_ context.Context, envelopeID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envelopes[envelopeID]
	if !ok || env.event != "signed" {
		return nil, errs.NotFound("signed document", envelopeID)
	}
	return env.signed, nil
}

func (s *SelfHosted) ParseCallback(raw []byte) (Callback, error) {
	var body callbackBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return Callback{}, errs.Validation("body", "malformed callback payload")
	}
	if body.EnvelopeID == "" {
		return Callback{}, errs.Validation("envelopeId", "is required")
	}
	return Callback{EnvelopeID: body.EnvelopeID, Event: body.Event}, nil
}

// Complete records a signing outcome for an envelope. The embedded web
// form posts here when the signer finishes.
func (s *SelfHosted) Complete(envelopeID, event string, signed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envelopes[envelopeID]
	if !ok {
		return errs.NotFound("envelope", envelopeID)
	}
	env.event = event
	if event == "signed" {
		if len(signed) == 0 {
			signed = []byte(fmt.Sprintf("signed document for %s", env.req.ContractID))
		}
		env.signed = signed
	}
	return nil
}
