package signature

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/talentflow/orchestrator/pkg/errs"
)

const hostedTimeout = 30 * time.Second

// Hosted talks to an external e-signature service over its REST API.
type Hosted struct {
	client *resty.Client
}

func NewHosted(baseURL, apiKey string) *Hosted {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(hostedTimeout).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json")
	return &Hosted{client: client}
}

func (h *Hosted) Name() string { return "hosted" }

type envelopeRequest struct {
	ContractID  string `json:"contract_id"`
	DocumentURL string `json:"document_url"`
	SignerEmail string `json:"signer_email"`
	SignerName  string `json:"signer_name"`
}

type envelopeResponse struct {
	EnvelopeID string `json:"envelope_id"`
}

func (h *Hosted) SendSignatureRequest(ctx context.Context, req SendRequest) (string, error) {
	var out envelopeResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(envelopeRequest{
			ContractID:  req.ContractID,
			DocumentURL: req.DocumentURL,
			SignerEmail: req.SignerEmail,
			SignerName:  req.SignerName,
		}).
		SetResult(&out).
		Post("/v1/envelopes")
	if err != nil {
		return "", errs.Transient(h.Name(), "send", err)
	}
	if resp.IsError() {
		return "", h.statusError("send", resp.StatusCode())
	}
	if out.EnvelopeID == "" {
		return "", errs.Terminal(h.Name(), "send", fmt.Errorf("response missing envelope id"))
	}
	return out.EnvelopeID, nil
}

func (h *Hosted) SignedDocument(ctx context.Context, envelopeID string) ([]byte, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		Get("/v1/envelopes/" + envelopeID + "/document")
	if err != nil {
		return nil, errs.Transient(h.Name(), "download", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, errs.NotFound("signed document", envelopeID)
	}
	if resp.IsError() {
		return nil, h.statusError("download", resp.StatusCode())
	}
	return resp.Body(), nil
}

type callbackBody struct {
	EnvelopeID string `json:"envelopeId"`
	Event      string `json:"event"`
}

func (h *Hosted) ParseCallback(raw []byte) (Callback, error) {
	var body callbackBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return Callback{}, errs.Validation("body", "malformed callback payload")
	}
	if body.EnvelopeID == "" {
		return Callback{}, errs.Validation("envelopeId", "is required")
	}
	if body.Event == "" {
		return Callback{}, errs.Validation("event", "is required")
	}
	return Callback{EnvelopeID: body.EnvelopeID, Event: body.Event}, nil
}

// statusError classifies an HTTP error status. Client errors other than
// 429 won't succeed on retry; everything else might.
func (h *Hosted) statusError(op string, code int) error {
	err := fmt.Errorf("status %d", code)
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return errs.Terminal(h.Name(), op, err)
	}
	return errs.Transient(h.Name(), op, err)
}
