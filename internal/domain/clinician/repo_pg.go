package clinician

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/patientcore/internal/platform/apperr"
	"github.com/ehr/patientcore/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const clinicianCols = `id, display_name, email, role, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, c *Clinician) error {
	if !c.Role.Valid() {
		return apperr.InvalidInput("unknown role %q", c.Role)
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO clinician (id, display_name, email, role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		c.ID, c.DisplayName, c.Email, c.Role,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create clinician: %w", db.Classify(err))
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	c, err := scanClinician(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+clinicianCols+` FROM clinician WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("clinician %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get clinician: %w", db.Classify(err))
	}
	return c, nil
}

func (r *repoPG) UpdateRole(ctx context.Context, id uuid.UUID, role Role) error {
	if !role.Valid() {
		return apperr.InvalidInput("unknown role %q", role)
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE clinician SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
	if err != nil {
		return fmt.Errorf("update clinician role: %w", db.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("clinician %s not found", id)
	}
	return nil
}

func scanClinician(row pgx.Row) (*Clinician, error) {
	var c Clinician
	if err := row.Scan(&c.ID, &c.DisplayName, &c.Email, &c.Role, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
