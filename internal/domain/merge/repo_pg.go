package merge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/patientcore/internal/platform/apperr"
	"github.com/ehr/patientcore/internal/platform/db"
)

type storePG struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

// WithTx uses READ COMMITTED: the patient rows are locked explicitly, and
// dependents are re-pointed by id so no other anomaly applies.
func (s *storePG) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := db.WithTx(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
	if err != nil {
		return db.Classify(err)
	}
	return nil
}

func (s *storePG) LockPatients(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]bool, error) {
	// Locking in id order keeps two merges over the same pair from deadlocking.
	rows, err := db.Conn(ctx, s.pool).Query(ctx,
		`SELECT id FROM patient WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock patients: %w", db.Classify(err))
	}
	defer rows.Close()

	found := make(map[uuid.UUID]bool, len(ids))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan locked patient: %w", db.Classify(err))
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock patients: %w", db.Classify(err))
	}
	return found, nil
}

func (s *storePG) CountDependents(ctx context.Context, patientID uuid.UUID) (map[string]int64, error) {
	q := db.Conn(ctx, s.pool)
	counts := make(map[string]int64, len(DependentTables)+1)
	for _, t := range DependentTables {
		var n int64
		sql := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = $1`, ident(t.Table), ident(t.Column))
		if err := q.QueryRow(ctx, sql, patientID).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", t.Table, db.Classify(err))
		}
		counts[t.Table] = n
	}

	var notes int64
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM visit_note n
		JOIN visit v ON v.id = n.visit_id
		WHERE v.patient_id = $1`, patientID).Scan(&notes)
	if err != nil {
		return nil, fmt.Errorf("count visit notes: %w", db.Classify(err))
	}
	counts[VisitNotesKey] = notes
	return counts, nil
}

func (s *storePG) CountShares(ctx context.Context, patientID uuid.UUID) (int64, error) {
	var n int64
	err := db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM patient_share WHERE patient_id = $1`, patientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count shares: %w", db.Classify(err))
	}
	return n, nil
}

func (s *storePG) Relocate(ctx context.Context, t DependentTable, source, target uuid.UUID) (int64, error) {
	if !isDependent(t) {
		return 0, fmt.Errorf("relocate: %s.%s is not a dependent table", t.Table, t.Column)
	}
	sql := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE %s = $2`, ident(t.Table), ident(t.Column), ident(t.Column))
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, sql, target, source)
	if err != nil {
		return 0, fmt.Errorf("relocate %s: %w", t.Table, db.Classify(err))
	}
	return tag.RowsAffected(), nil
}

func (s *storePG) DeleteShares(ctx context.Context, patientID uuid.UUID) (int64, error) {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `DELETE FROM patient_share WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, fmt.Errorf("delete shares: %w", db.Classify(err))
	}
	return tag.RowsAffected(), nil
}

func (s *storePG) InsertLog(ctx context.Context, e *LogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	relocated, err := json.Marshal(e.Relocated)
	if err != nil {
		return fmt.Errorf("encode relocated counts: %w", err)
	}
	err = db.Conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO patient_merge_log (id, source_patient_id, target_patient_id, merged_by, relocated, shares_dropped)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING merged_at`,
		e.ID, e.SourceID, e.TargetID, e.MergedBy, relocated, e.SharesDropped,
	).Scan(&e.MergedAt)
	if err != nil {
		return fmt.Errorf("insert merge log: %w", db.Classify(err))
	}
	return nil
}

func (s *storePG) DeletePatient(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient: %w", db.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient %s not found", id)
	}
	return nil
}

func (s *storePG) GetLogBySource(ctx context.Context, sourceID uuid.UUID) (*LogEntry, error) {
	var e LogEntry
	var relocated []byte
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT id, source_patient_id, target_patient_id, merged_by, relocated, shares_dropped, merged_at
		FROM patient_merge_log WHERE source_patient_id = $1`, sourceID,
	).Scan(&e.ID, &e.SourceID, &e.TargetID, &e.MergedBy, &relocated, &e.SharesDropped, &e.MergedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("no merge recorded for patient %s", sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get merge log: %w", db.Classify(err))
	}
	if err := json.Unmarshal(relocated, &e.Relocated); err != nil {
		return nil, fmt.Errorf("decode relocated counts: %w", err)
	}
	return &e, nil
}

func isDependent(t DependentTable) bool {
	for _, d := range DependentTables {
		if d == t {
			return true
		}
	}
	return false
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
