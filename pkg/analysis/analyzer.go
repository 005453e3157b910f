// Package analysis abstracts the contract analysis provider. The review
// pipeline depends only on the Analyzer interface; the OpenAI-compatible
// client is one implementation, test doubles are another.
package analysis

import "context"

// Deliverable is one obligation extracted from a contract.
type Deliverable struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Platform    string `json:"platform,omitempty"`
}

// Deadline is a dated obligation that is not itself a deliverable
// (exclusivity windows, payment dates, usage expiries).
type Deadline struct {
	Label string `json:"label"`
	Date  string `json:"date"`
}

// Findings is the structured result of one contract analysis.
type Findings struct {
	Deliverables []Deliverable `json:"deliverables"`
	Deadlines    []Deadline    `json:"deadlines"`
	RiskScore    int           `json:"risk_score"`
	Summary      string        `json:"summary"`
}

// Usage reports the provider's token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Result bundles findings with the usage that produced them.
type Result struct {
	Findings Findings
	Usage    Usage
}

// Analyzer turns contract text into structured findings. Implementations
// must return a terminal provider error (pkg/errs) for malformed output
// and a transient one for transport failures, never panic on garbage.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*Result, error)
}
