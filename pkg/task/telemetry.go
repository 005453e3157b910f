package task

import (
	"context"

	"github.com/talentflow/orchestrator/pkg/logger"
)

// Usage is the token/cost accounting a handler reports for a completed
// unit of work.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (u Usage) zero() bool { return u.PromptTokens == 0 && u.CompletionTokens == 0 }

// UsageRecorder is the accounting collaborator that receives telemetry
// when a task completes.
type UsageRecorder interface {
	Record(ctx context.Context, taskType string, u Usage)
}

// LogUsageRecorder writes usage to the structured log. The billing
// pipeline scrapes these lines downstream.
type LogUsageRecorder struct{}

func (LogUsageRecorder) Record(_ context.Context, taskType string, u Usage) {
	logger.Log.Info().
		Str("task_type", taskType).
		Int("prompt_tokens", u.PromptTokens).
		Int("completion_tokens", u.CompletionTokens).
		Msg("Task usage recorded")
}
