package signature

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talentflow/orchestrator/pkg/errs"
)

// PGStore persists signature requests in Postgres. Status transitions
// are guarded in the WHERE clause so terminal rows never regress.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{db: db} }

const requestColumns = `id, contract_id, owner_id, provider, document_url,
	signer_email, signer_name, coalesce(envelope_id, ''), status, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, r *Request) error {
	_, err := s.db.Exec(ctx, `insert into signature_requests(
		id, contract_id, owner_id, provider, document_url,
		signer_email, signer_name, status, created_at, updated_at
	) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		r.ID, r.ContractID, r.OwnerID, r.Provider, r.DocumentURL,
		r.SignerEmail, r.SignerName, r.Status, r.CreatedAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRow(ctx,
		`select `+requestColumns+` from signature_requests where id = $1`, id)
	return s.scan(row, id)
}

func (s *PGStore) GetByEnvelope(ctx context.Context, envelopeID string) (*Request, error) {
	row := s.db.QueryRow(ctx,
		`select `+requestColumns+` from signature_requests where envelope_id = $1`, envelopeID)
	return s.scan(row, envelopeID)
}

func (s *PGStore) MarkSent(ctx context.Context, id, envelopeID string) error {
	return s.guardedExec(ctx, id, `update signature_requests
		set envelope_id = $1, status = $2, updated_at = now()
		where id = $3 and status not in ($4, $5, $6)`,
		envelopeID, StatusSent, id, StatusSigned, StatusDeclined, StatusSuperseded)
}

func (s *PGStore) SetStatus(ctx context.Context, id string, status Status) error {
	return s.guardedExec(ctx, id, `update signature_requests
		set status = $1, updated_at = now()
		where id = $2 and status not in ($3, $4, $5)`,
		status, id, StatusSigned, StatusDeclined, StatusSuperseded)
}

func (s *PGStore) ListInFlight(ctx context.Context, contractID string) ([]*Request, error) {
	rows, err := s.db.Query(ctx, `select `+requestColumns+`
		from signature_requests
		where contract_id = $1 and status in ($2, $3)`,
		contractID, StatusPending, StatusSent)
	if err != nil {
		return nil, err
	}
	return s.collect(rows)
}

func (s *PGStore) ListStalePending(ctx context.Context, cutoff time.Time) ([]*Request, error) {
	rows, err := s.db.Query(ctx, `select `+requestColumns+`
		from signature_requests
		where status = $1 and updated_at < $2`,
		StatusPending, cutoff)
	if err != nil {
		return nil, err
	}
	return s.collect(rows)
}

func (s *PGStore) scan(row pgx.Row, ref string) (*Request, error) {
	var r Request
	err := row.Scan(
		&r.ID, &r.ContractID, &r.OwnerID, &r.Provider, &r.DocumentURL,
		&r.SignerEmail, &r.SignerName, &r.EnvelopeID, &r.Status, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("signature request", ref)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PGStore) collect(rows pgx.Rows) ([]*Request, error) {
	defer rows.Close()
	var out []*Request
	for rows.Next() {
		var r Request
		if err := rows.Scan(
			&r.ID, &r.ContractID, &r.OwnerID, &r.Provider, &r.DocumentURL,
			&r.SignerEmail, &r.SignerName, &r.EnvelopeID, &r.Status, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// guardedExec distinguishes a missing row from a terminal one when the
// status-guarded update touches nothing.
func (s *PGStore) guardedExec(ctx context.Context, id, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrTerminal
	}
	return nil
}
