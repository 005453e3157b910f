package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentflow/orchestrator/pkg/errs"
)

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
			"usage": map[string]int{"prompt_tokens": 200, "completion_tokens": 80},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyzeParsesStructuredFindings(t *testing.T) {
	srv := completionServer(t, `{
		"deliverables": [{"title": "2x Instagram Reels", "due_date": "2026-10-01", "platform": "instagram"}],
		"deadlines": [{"label": "exclusivity ends", "date": "2026-12-31"}],
		"risk_score": 4,
		"summary": "Standard brand partnership terms."
	}`)

	c := NewOpenAIClient(srv.URL, "test-key", "gpt-4o-mini")
	res, err := c.Analyze(context.Background(), "contract text")
	require.NoError(t, err)

	assert.Len(t, res.Findings.Deliverables, 1)
	assert.Equal(t, "2x Instagram Reels", res.Findings.Deliverables[0].Title)
	assert.Equal(t, 4, res.Findings.RiskScore)
	assert.Equal(t, 200, res.Usage.PromptTokens)
	assert.Equal(t, 80, res.Usage.CompletionTokens)
}

func TestAnalyzeStripsCodeFences(t *testing.T) {
	srv := completionServer(t, "```json\n{\"deliverables\":[],\"deadlines\":[],\"risk_score\":2,\"summary\":\"ok\"}\n```")

	c := NewOpenAIClient(srv.URL, "test-key", "")
	res, err := c.Analyze(context.Background(), "contract text")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Findings.RiskScore)
}

func TestAnalyzeMalformedContentIsTerminal(t *testing.T) {
	srv := completionServer(t, "I'm sorry, I can't help with that.")

	c := NewOpenAIClient(srv.URL, "test-key", "")
	_, err := c.Analyze(context.Background(), "contract text")
	require.Error(t, err)
	assert.False(t, errs.IsRetryable(err), "malformed output must not be retried")
}

func TestAnalyzeEmptyChoicesIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	t.Cleanup(srv.Close)

	c := NewOpenAIClient(srv.URL, "test-key", "")
	_, err := c.Analyze(context.Background(), "contract text")
	require.Error(t, err)
	assert.False(t, errs.IsRetryable(err))
}

func TestAnalyzeServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewOpenAIClient(srv.URL, "test-key", "")
	_, err := c.Analyze(context.Background(), "contract text")
	require.Error(t, err)
	assert.True(t, errs.IsRetryable(err), "5xx should be retried up to the budget")
}

func TestAnalyzeRejectsOutOfRangeRisk(t *testing.T) {
	srv := completionServer(t, `{"deliverables":[],"deadlines":[],"risk_score":42,"summary":"?"}`)

	c := NewOpenAIClient(srv.URL, "test-key", "")
	_, err := c.Analyze(context.Background(), "contract text")
	require.Error(t, err)
	assert.False(t, errs.IsRetryable(err))
}
