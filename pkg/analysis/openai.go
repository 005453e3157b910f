package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/talentflow/orchestrator/pkg/errs"
)

const systemPrompt = `You are a contract analyst for a talent management agency.
Given the text of a brand partnership contract, respond with a single JSON object:
{
  "deliverables": [{"title": "", "description": "", "due_date": "YYYY-MM-DD", "platform": ""}],
  "deadlines": [{"label": "", "date": "YYYY-MM-DD"}],
  "risk_score": 0,
  "summary": ""
}
risk_score is an integer from 0 (standard terms) to 10 (severe exposure:
perpetual usage rights, unlimited exclusivity, uncapped liability).
Respond with JSON only, no prose.`

// OpenAIClient calls an OpenAI-compatible chat-completions endpoint.
// Works against the hosted API or any compatible gateway via BaseURL.
type OpenAIClient struct {
	model   string
	apiKey  string
	baseURL string
	client  *resty.Client
}

// NewOpenAIClient builds the provider client. Transport-level retries
// stay off here: the task and queue layers own retry policy, and a
// client that silently re-sends would double-spend the budget.
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	client := resty.New()
	client.SetTimeout(60 * time.Second)

	return &OpenAIClient{
		model:   model,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIClient) Analyze(ctx context.Context, text string) (*Result, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0,
	}

	var out chatResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&out).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return nil, errs.Transient("openai", "analyze", err)
	}

	if resp.IsError() {
		err := fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
		// 4xx means the provider rejected the input; retrying the same
		// request cannot succeed.
		if resp.StatusCode() >= 400 && resp.StatusCode() < 500 && resp.StatusCode() != 429 {
			return nil, errs.Terminal("openai", "analyze", err)
		}
		return nil, errs.Transient("openai", "analyze", err)
	}

	if out.Error != nil {
		return nil, errs.Terminal("openai", "analyze", fmt.Errorf("provider error: %s", out.Error.Message))
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return nil, errs.Terminal("openai", "analyze", fmt.Errorf("empty completion"))
	}

	findings, err := parseFindings(out.Choices[0].Message.Content)
	if err != nil {
		return nil, errs.Terminal("openai", "analyze", err)
	}

	return &Result{
		Findings: *findings,
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
		},
	}, nil
}

// parseFindings tolerates the usual model quirks: markdown code fences
// and prose wrapped around the JSON object.
func parseFindings(content string) (*Findings, error) {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if start := strings.Index(cleaned, "{"); start > 0 {
		cleaned = cleaned[start:]
	}
	if end := strings.LastIndex(cleaned, "}"); end >= 0 {
		cleaned = cleaned[:end+1]
	}

	var f Findings
	if err := json.Unmarshal([]byte(cleaned), &f); err != nil {
		return nil, fmt.Errorf("malformed findings payload: %w", err)
	}
	if f.RiskScore < 0 || f.RiskScore > 10 {
		return nil, fmt.Errorf("risk score %d out of range", f.RiskScore)
	}
	return &f, nil
}
