package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// ListAll returns every patient ordered by created_at, id.
	ListAll(ctx context.Context) ([]*Patient, error)
	// SearchByDemographics returns patients matching any supplied signal.
	// It is a coarse prefilter; callers re-check with the duplicate signals.
	SearchByDemographics(ctx context.Context, d Demographics) ([]*Patient, error)
}
