package access

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/patientcore/internal/domain/clinician"
	"github.com/ehr/patientcore/internal/platform/apperr"
	"github.com/ehr/patientcore/internal/platform/metrics"
)

// ShareService grants, revokes and lists patient shares.
type ShareService struct {
	resolver   *Resolver
	shares     ShareRepository
	patients   PatientReader
	clinicians ClinicianReader
	metrics    metrics.Recorder
	logger     zerolog.Logger
	now        func() time.Time
}

func NewShareService(resolver *Resolver, shares ShareRepository, patients PatientReader, clinicians ClinicianReader, rec metrics.Recorder, logger zerolog.Logger) *ShareService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &ShareService{
		resolver:   resolver,
		shares:     shares,
		patients:   patients,
		clinicians: clinicians,
		metrics:    rec,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateShare grants req.Level on a patient to another clinician. Only a
// clinician holding full on the patient may share it.
func (s *ShareService) CreateShare(ctx context.Context, actor *clinician.Clinician, req CreateShareRequest) (*Share, error) {
	level, err := ParseLevel(req.Level)
	if err != nil {
		s.metrics.RecordShareRejected("invalid_level")
		return nil, err
	}
	now := s.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		s.metrics.RecordShareRejected("expired")
		return nil, apperr.InvalidInput("expires_at must be in the future")
	}
	if req.SharedWithID == uuid.Nil {
		s.metrics.RecordShareRejected("invalid_recipient")
		return nil, apperr.InvalidInput("shared_with is required")
	}
	if actor != nil && req.SharedWithID == actor.ID {
		s.metrics.RecordShareRejected("self_share")
		return nil, apperr.Forbidden("cannot share a patient with yourself")
	}

	if _, err := s.resolver.Require(ctx, actor, req.PatientID, LevelFull); err != nil {
		if apperr.IsForbidden(err) {
			s.metrics.RecordShareRejected("forbidden")
		}
		return nil, err
	}

	if _, err := s.clinicians.GetByID(ctx, req.SharedWithID); err != nil {
		if apperr.IsNotFound(err) {
			s.metrics.RecordShareRejected("unknown_recipient")
			return nil, apperr.NotFound("clinician %s not found", req.SharedWithID)
		}
		return nil, err
	}

	p, err := s.patients.GetByID(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	if p.OwningClinicianID == req.SharedWithID {
		s.metrics.RecordShareRejected("recipient_is_owner")
		return nil, apperr.InvalidInput("clinician already owns this patient")
	}

	existing, err := s.shares.FindActive(ctx, req.PatientID, req.SharedWithID, now)
	switch {
	case err == nil && existing != nil:
		s.metrics.RecordShareRejected("duplicate")
		return nil, apperr.Conflict("already shared with this clinician")
	case err != nil && !apperr.IsNotFound(err):
		return nil, err
	}

	share := &Share{
		ID:         uuid.New(),
		PatientID:  req.PatientID,
		SharedBy:   actor.ID,
		SharedWith: req.SharedWithID,
		Level:      level,
		ExpiresAt:  req.ExpiresAt,
	}
	if err := s.shares.Create(ctx, share); err != nil {
		if apperr.IsConflict(err) {
			s.metrics.RecordShareRejected("duplicate")
		}
		return nil, err
	}

	s.metrics.RecordShareCreated(level.String())
	s.logger.Info().
		Str("share_id", share.ID.String()).
		Str("patient_id", share.PatientID.String()).
		Str("shared_by", share.SharedBy.String()).
		Str("shared_with", share.SharedWith.String()).
		Str("level", level.String()).
		Msg("patient shared")
	return share, nil
}

// RevokeShare deletes a share. Only the granter or an admin may revoke it.
func (s *ShareService) RevokeShare(ctx context.Context, actor *clinician.Clinician, shareID uuid.UUID) error {
	share, err := s.shares.GetByID(ctx, shareID)
	if err != nil {
		return err
	}
	if actor == nil || (share.SharedBy != actor.ID && !actor.IsAdmin()) {
		return apperr.Forbidden("only the granting clinician or an admin can revoke this share")
	}
	if err := s.shares.Delete(ctx, shareID); err != nil {
		return fmt.Errorf("revoke share: %w", err)
	}

	s.metrics.RecordShareRevoked()
	s.logger.Info().
		Str("share_id", shareID.String()).
		Str("patient_id", share.PatientID.String()).
		Str("revoked_by", actor.ID.String()).
		Msg("share revoked")
	return nil
}

// ListShares returns the active shares on a patient, newest first. Any
// clinician with access to the patient may see them.
func (s *ShareService) ListShares(ctx context.Context, actor *clinician.Clinician, patientID uuid.UUID) ([]*Share, error) {
	if _, err := s.resolver.Require(ctx, actor, patientID, LevelRead); err != nil {
		return nil, err
	}
	return s.shares.ListActiveByPatient(ctx, patientID, s.now())
}

// ListSharedWithMe returns the active shares granted to actor, newest first.
func (s *ShareService) ListSharedWithMe(ctx context.Context, actor *clinician.Clinician) ([]*Share, error) {
	if actor == nil {
		return nil, apperr.Forbidden("insufficient permission")
	}
	return s.shares.ListActiveByRecipient(ctx, actor.ID, s.now())
}
