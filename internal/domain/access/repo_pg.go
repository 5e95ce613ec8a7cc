package access

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/patientcore/internal/platform/apperr"
	"github.com/ehr/patientcore/internal/platform/db"
)

type shareRepoPG struct {
	pool *pgxpool.Pool
}

func NewShareRepo(pool *pgxpool.Pool) ShareRepository {
	return &shareRepoPG{pool: pool}
}

const shareCols = `id, patient_id, shared_by, shared_with, permission_level, expires_at, created_at`

func (r *shareRepoPG) Create(ctx context.Context, s *Share) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient_share (id, patient_id, shared_by, shared_with, permission_level, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		s.ID, s.PatientID, s.SharedBy, s.SharedWith, s.Level.String(), s.ExpiresAt,
	).Scan(&s.CreatedAt)
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err):
		return &apperr.Error{Kind: apperr.ErrConflict, Message: "already shared with this clinician", Err: err}
	case db.HasCode(err, db.CodeCheckViolation):
		return &apperr.Error{Kind: apperr.ErrInvalidInput, Message: checkViolationMessage(db.ConstraintName(err)), Err: err}
	case db.HasCode(err, db.CodeForeignKeyViolation):
		return &apperr.Error{Kind: apperr.ErrNotFound, Message: "patient or clinician not found", Err: err}
	default:
		return fmt.Errorf("create share: %w", db.Classify(err))
	}
}

func checkViolationMessage(constraint string) string {
	switch constraint {
	case "patient_share_not_self_chk":
		return "cannot share a patient with yourself"
	case "patient_share_expiry_chk":
		return "expiry must be in the future"
	default:
		return "invalid share"
	}
}

func (r *shareRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Share, error) {
	s, err := scanShare(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+shareCols+` FROM patient_share WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("share %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get share: %w", db.Classify(err))
	}
	return s, nil
}

func (r *shareRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM patient_share WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete share: %w", db.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("share %s not found", id)
	}
	return nil
}

func (r *shareRepoPG) FindActive(ctx context.Context, patientID, sharedWith uuid.UUID, now time.Time) (*Share, error) {
	s, err := scanShare(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+shareCols+` FROM patient_share
		WHERE patient_id = $1 AND shared_with = $2
		  AND created_at <= $3 AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY created_at DESC
		LIMIT 1`, patientID, sharedWith, now))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("no active share")
	}
	if err != nil {
		return nil, fmt.Errorf("find active share: %w", db.Classify(err))
	}
	return s, nil
}

func (r *shareRepoPG) ListActiveByPatient(ctx context.Context, patientID uuid.UUID, now time.Time) ([]*Share, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+shareCols+` FROM patient_share
		WHERE patient_id = $1 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at DESC, id`, patientID, now)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", db.Classify(err))
	}
	return collectShares(rows)
}

func (r *shareRepoPG) ListActiveByRecipient(ctx context.Context, sharedWith uuid.UUID, now time.Time) ([]*Share, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+shareCols+` FROM patient_share
		WHERE shared_with = $1 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at DESC, id`, sharedWith, now)
	if err != nil {
		return nil, fmt.Errorf("list incoming shares: %w", db.Classify(err))
	}
	return collectShares(rows)
}

func collectShares(rows pgx.Rows) ([]*Share, error) {
	defer rows.Close()
	var shares []*Share
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share: %w", db.Classify(err))
		}
		shares = append(shares, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", db.Classify(err))
	}
	return shares, nil
}

func scanShare(row pgx.Row) (*Share, error) {
	var s Share
	var level string
	if err := row.Scan(&s.ID, &s.PatientID, &s.SharedBy, &s.SharedWith, &level, &s.ExpiresAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("share %s: %w", s.ID, err)
	}
	s.Level = parsed
	return &s, nil
}
