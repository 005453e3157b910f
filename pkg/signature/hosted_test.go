package signature

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentflow/orchestrator/pkg/errs"
)

func TestHostedSendSignatureRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/envelopes", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"envelope_id": "env-42"}`))
	}))
	defer srv.Close()

	h := NewHosted(srv.URL, "secret")
	env, err := h.SendSignatureRequest(context.Background(), SendRequest{
		ContractID:  "c1",
		DocumentURL: "https://docs.example.com/c1.pdf",
		SignerEmail: "brand@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "env-42", env)
}

func TestHostedClientErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	h := NewHosted(srv.URL, "secret")
	_, err := h.SendSignatureRequest(context.Background(), SendRequest{})
	require.Error(t, err)
	assert.False(t, errs.IsRetryable(err))
}

func TestHostedServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewHosted(srv.URL, "secret")
	_, err := h.SendSignatureRequest(context.Background(), SendRequest{})
	require.Error(t, err)
	assert.True(t, errs.IsRetryable(err))
}

func TestHostedParseCallback(t *testing.T) {
	h := NewHosted("http://unused", "secret")

	cb, err := h.ParseCallback([]byte(`{"envelopeId": "env-1", "event": "signed"}`))
	require.NoError(t, err)
	assert.Equal(t, "env-1", cb.EnvelopeID)
	assert.Equal(t, "signed", cb.Event)

	_, err = h.ParseCallback([]byte(`not json`))
	assert.True(t, errs.IsValidation(err))

	_, err = h.ParseCallback([]byte(`{"event": "signed"}`))
	assert.True(t, errs.IsValidation(err))
}
