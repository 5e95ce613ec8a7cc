package access

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/patientcore/internal/domain/clinician"
	"github.com/ehr/patientcore/internal/domain/patient"
)

type ShareRepository interface {
	// Create inserts a share. A concurrent active share for the same
	// (patient, recipient) pair makes it fail with apperr.ErrConflict.
	Create(ctx context.Context, s *Share) error
	GetByID(ctx context.Context, id uuid.UUID) (*Share, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// FindActive returns the share active at now for the pair, or apperr.ErrNotFound.
	FindActive(ctx context.Context, patientID, sharedWith uuid.UUID, now time.Time) (*Share, error)
	ListActiveByPatient(ctx context.Context, patientID uuid.UUID, now time.Time) ([]*Share, error)
	ListActiveByRecipient(ctx context.Context, sharedWith uuid.UUID, now time.Time) ([]*Share, error)
}

// PatientReader is the slice of the patient repository the resolver needs.
type PatientReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// ClinicianReader is the slice of the clinician repository share creation needs.
type ClinicianReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*clinician.Clinician, error)
}
