package merge

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence the coordinator drives. Everything except
// WithTx and GetLogBySource must be called inside WithTx.
type Store interface {
	// WithTx runs fn in one transaction, rolled back on error or cancellation.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// LockPatients locks the given patient rows and returns the ids that exist.
	LockPatients(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]bool, error)
	CountDependents(ctx context.Context, patientID uuid.UUID) (map[string]int64, error)
	CountShares(ctx context.Context, patientID uuid.UUID) (int64, error)
	Relocate(ctx context.Context, t DependentTable, source, target uuid.UUID) (int64, error)
	DeleteShares(ctx context.Context, patientID uuid.UUID) (int64, error)
	InsertLog(ctx context.Context, e *LogEntry) error
	DeletePatient(ctx context.Context, id uuid.UUID) error
	GetLogBySource(ctx context.Context, sourceID uuid.UUID) (*LogEntry, error)
}
