package review

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talentflow/orchestrator/pkg/analysis"
	"github.com/talentflow/orchestrator/pkg/errs"
)

// PGStore persists reviews in Postgres. Findings and the timeline live
// in jsonb columns; the claim is a status-guarded UPDATE.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Create(ctx context.Context, r *ContractReview) error {
	_, err := s.db.Exec(ctx, `insert into contract_reviews(
		id, owner_id, document_ref, status, risk_score, timeline, created_at, updated_at
	) values ($1, $2, $3, $4, 0, '[]'::jsonb, $5, $5)`,
		r.ID, r.OwnerID, r.DocumentRef, r.Status, r.CreatedAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id string) (*ContractReview, error) {
	var (
		r        ContractReview
		findings []byte
		timeline []byte
	)
	err := s.db.QueryRow(ctx, `select
		id, owner_id, document_ref, coalesce(raw_text, ''), status,
		findings, risk_score, coalesce(error, ''), timeline, created_at, updated_at
	from contract_reviews where id = $1`, id).Scan(
		&r.ID, &r.OwnerID, &r.DocumentRef, &r.RawText, &r.Status,
		&findings, &r.RiskScore, &r.Error, &timeline, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("contract review", id)
	}
	if err != nil {
		return nil, err
	}
	if len(findings) > 0 {
		var f analysis.Findings
		if err := json.Unmarshal(findings, &f); err != nil {
			return nil, err
		}
		r.Findings = &f
	}
	if len(timeline) > 0 {
		if err := json.Unmarshal(timeline, &r.Timeline); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func (s *PGStore) Claim(ctx context.Context, id string) (*ContractReview, error) {
	tag, err := s.db.Exec(ctx, `update contract_reviews
		set status = $1, updated_at = now()
		where id = $2 and status in ($3, $4)`,
		StatusProcessing, id, StatusSubmitted, StatusFailed,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotClaimable
	}
	return s.Get(ctx, id)
}

func (s *PGStore) SaveText(ctx context.Context, id, text string) error {
	return s.exec(ctx, id, `update contract_reviews
		set raw_text = $1, updated_at = now() where id = $2`, text, id)
}

func (s *PGStore) Complete(ctx context.Context, id string, f *analysis.Findings, riskScore int) error {
	body, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.exec(ctx, id, `update contract_reviews
		set status = $1, findings = $2, risk_score = $3, error = null, updated_at = now()
		where id = $4`,
		StatusProcessed, body, riskScore, id)
}

func (s *PGStore) Fail(ctx context.Context, id, cause string) error {
	return s.exec(ctx, id, `update contract_reviews
		set status = $1, error = $2, updated_at = now() where id = $3`,
		StatusFailed, cause, id)
}

func (s *PGStore) AppendTimeline(ctx context.Context, id string, entry TimelineEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.exec(ctx, id, `update contract_reviews
		set timeline = timeline || $1::jsonb, updated_at = now() where id = $2`,
		body, id)
}

func (s *PGStore) exec(ctx context.Context, id, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("contract review", id)
	}
	return nil
}
