package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentflow/orchestrator/pkg/config"
	"github.com/talentflow/orchestrator/pkg/queue"
	"github.com/talentflow/orchestrator/pkg/ratelimit"
	"github.com/talentflow/orchestrator/pkg/review"
	"github.com/talentflow/orchestrator/pkg/signature"
	"github.com/talentflow/orchestrator/pkg/task"
)

func testServer(t *testing.T, apiKey string) *server {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	sigStore := signature.NewMemoryStore()
	return &server{
		cfg:        config.Config{APIKey: apiKey},
		fabric:     queue.New(mr.Addr(), ""),
		tasks:      task.NewMemoryStore(),
		reviews:    review.NewMemoryStore(),
		signatures: signature.NewOrchestrator(sigStore, signature.NewSelfHosted(), nil, nil),
		limiter:    ratelimit.NewLimiter(ratelimit.NewMemoryStore()),
	}
}

func request(t *testing.T, h http.Handler, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:1234"
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	s := testServer(t, "secret-key")
	h := s.router()

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{"no api key", "", http.StatusUnauthorized},
		{"wrong api key", "wrong-key", http.StatusUnauthorized},
		{"correct api key", "secret-key", http.StatusBadRequest}, // empty body, but auth passed
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := request(t, h, http.MethodPost, "/api/tasks", tt.key, nil)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestCreateAndGetTask(t *testing.T) {
	s := testServer(t, "")
	h := s.router()

	rec := request(t, h, http.MethodPost, "/api/tasks", "", map[string]any{
		"type":    "sync_social_analytics",
		"payload": map[string]string{"account": "acc-1"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "PENDING", created.Status)

	got := request(t, h, http.MethodGet, "/api/tasks/"+created.ID, "", nil)
	assert.Equal(t, http.StatusOK, got.Code)

	missing := request(t, h, http.MethodGet, "/api/tasks/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestCreateTaskRequiresType(t *testing.T) {
	s := testServer(t, "")
	rec := request(t, s.router(), http.MethodPost, "/api/tasks", "", map[string]any{"payload": nil})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAndGetReview(t *testing.T) {
	s := testServer(t, "")
	h := s.router()

	rec := request(t, h, http.MethodPost, "/api/reviews", "", map[string]string{
		"ownerId":     "u1",
		"documentRef": "https://docs.example.com/contract.pdf",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "submitted", created.Status)

	got := request(t, h, http.MethodGet, "/api/reviews/"+created.ID, "", nil)
	assert.Equal(t, http.StatusOK, got.Code)
	assert.NotContains(t, got.Body.String(), "rawText", "extracted text is not exposed")
}

func TestCreateReviewValidation(t *testing.T) {
	s := testServer(t, "")
	h := s.router()

	rec := request(t, h, http.MethodPost, "/api/reviews", "", map[string]string{"ownerId": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = request(t, h, http.MethodPost, "/api/reviews", "", map[string]string{"documentRef": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitiateSignature(t *testing.T) {
	s := testServer(t, "")
	h := s.router()

	rec := request(t, h, http.MethodPost, "/api/contracts/c1/signature", "", map[string]string{
		"ownerId":     "u1",
		"documentUrl": "https://docs.example.com/c1.pdf",
		"signerEmail": "brand@example.com",
		"signerName":  "Brand Inc",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		EnvelopeID string `json:"envelopeId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "sent", created.Status)
	assert.NotEmpty(t, created.EnvelopeID)
}

func TestInitiateSignatureWithoutDocument(t *testing.T) {
	s := testServer(t, "")
	rec := request(t, s.router(), http.MethodPost, "/api/contracts/c1/signature", "", map[string]string{
		"ownerId":     "u1",
		"signerEmail": "brand@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignatureWebhookFlow(t *testing.T) {
	s := testServer(t, "secret-key")
	h := s.router()

	rec := request(t, h, http.MethodPost, "/api/contracts/c1/signature", "secret-key", map[string]string{
		"ownerId":     "u1",
		"documentUrl": "https://docs.example.com/c1.pdf",
		"signerEmail": "brand@example.com",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		EnvelopeID string `json:"envelopeId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Webhooks carry no API key; the route must accept them anyway.
	cb := request(t, h, http.MethodPost, "/api/webhooks/signature", "", map[string]string{
		"envelopeId": created.EnvelopeID,
		"event":      "completed",
	})
	assert.Equal(t, http.StatusOK, cb.Code)

	unknown := request(t, h, http.MethodPost, "/api/webhooks/signature", "", map[string]string{
		"envelopeId": "env-ghost",
		"event":      "completed",
	})
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}

func TestHealthz(t *testing.T) {
	s := testServer(t, "secret-key")
	rec := request(t, s.router(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
