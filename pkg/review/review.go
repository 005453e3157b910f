// Package review implements the contract review workflow: a document is
// ingested, its text extracted, analyzed by a provider, and the findings
// persisted with an audit trail. The pipeline never deletes a review;
// only the owning application may.
package review

import (
	"time"

	"github.com/talentflow/orchestrator/pkg/analysis"
)

type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// TimelineEntry is one line of the review's audit trail.
type TimelineEntry struct {
	At     time.Time `json:"at"`
	Event  string    `json:"event"`
	Detail string    `json:"detail,omitempty"`
}

// ContractReview is the document-centric workflow record. It is mutated
// by exactly one pipeline run at a time; the store's claim enforces
// that.
type ContractReview struct {
	ID          string             `json:"id"`
	OwnerID     string             `json:"owner_id"`
	DocumentRef string             `json:"document_ref"`
	RawText     string             `json:"-"`
	Status      Status             `json:"status"`
	Findings    *analysis.Findings `json:"findings,omitempty"`
	RiskScore   int                `json:"risk_score"`
	Error       string             `json:"error,omitempty"`
	Timeline    []TimelineEntry    `json:"timeline,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// New builds a submitted review.
func New(id, ownerID, documentRef string) *ContractReview {
	now := time.Now()
	return &ContractReview{
		ID:          id,
		OwnerID:     ownerID,
		DocumentRef: documentRef,
		Status:      StatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
