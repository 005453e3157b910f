package task

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talentflow/orchestrator/pkg/errs"
)

// PGStore persists tasks in Postgres. The claim is a single UPDATE
// guarded by status='PENDING', so concurrent workers race on the row and
// exactly one wins.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Create(ctx context.Context, t *Task) error {
	_, err := s.db.Exec(ctx, `insert into tasks(
		id, type, payload, status, attempt_count, max_attempts, created_at
	) values ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Type, t.Payload, t.Status, t.AttemptCount, t.MaxAttempts, t.CreatedAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := s.db.QueryRow(ctx, `select
		id, type, payload, status, attempt_count, max_attempts,
		result, coalesce(error, ''), started_at, completed_at, created_at
	from tasks where id = $1`, id).Scan(
		&t.ID, &t.Type, &t.Payload, &t.Status, &t.AttemptCount, &t.MaxAttempts,
		&t.Result, &t.Error, &t.StartedAt, &t.CompletedAt, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("task", id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PGStore) Claim(ctx context.Context, id string) (*Task, error) {
	tag, err := s.db.Exec(ctx, `update tasks
		set status = $1, started_at = now()
		where id = $2 and status = $3`,
		StatusRunning, id, StatusPending,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing row.
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotClaimable
	}
	return s.Get(ctx, id)
}

func (s *PGStore) RecordAttempt(ctx context.Context, id string, attempt int) error {
	tag, err := s.db.Exec(ctx, `update tasks
		set attempt_count = $1
		where id = $2 and status = $3 and $1 <= max_attempts`,
		attempt, id, StatusRunning,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTerminal
	}
	return nil
}

func (s *PGStore) Complete(ctx context.Context, id string, result json.RawMessage) error {
	tag, err := s.db.Exec(ctx, `update tasks
		set status = $1, result = $2, completed_at = now()
		where id = $3 and status = $4`,
		StatusCompleted, result, id, StatusRunning,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTerminal
	}
	return nil
}

func (s *PGStore) Fail(ctx context.Context, id string, summary string) error {
	tag, err := s.db.Exec(ctx, `update tasks
		set status = $1, error = $2, completed_at = now()
		where id = $3 and status = $4`,
		StatusFailed, summary, id, StatusRunning,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTerminal
	}
	return nil
}
