package clinician

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/patientcore/internal/platform/apperr"
)

// Identity is the already-authenticated caller handed over by the identity
// context. Nothing here verifies it.
type Identity struct {
	ID          uuid.UUID
	Email       string
	DisplayName string
}

type Service struct {
	repo        Repository
	adminEmails map[string]bool
	logger      zerolog.Logger
}

// NewService builds the clinician service. adminEmails is the out-of-band
// promotion rule: identities with one of these emails are admins.
func NewService(repo Repository, adminEmails []string, logger zerolog.Logger) *Service {
	set := make(map[string]bool, len(adminEmails))
	for _, e := range adminEmails {
		set[strings.ToLower(strings.TrimSpace(e))] = true
	}
	return &Service{repo: repo, adminEmails: set, logger: logger}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Clinician, error) {
	return s.repo.GetByID(ctx, id)
}

// EnsureClinician returns the clinician for an authenticated identity,
// creating it on first access. The admin email rule only ever promotes;
// demotion is an operator action.
func (s *Service) EnsureClinician(ctx context.Context, ident Identity) (*Clinician, error) {
	if ident.ID == uuid.Nil {
		return nil, apperr.InvalidInput("identity has no clinician id")
	}

	c, err := s.repo.GetByID(ctx, ident.ID)
	switch {
	case err == nil:
		if c.Role != RoleAdmin && s.isAdminEmail(c.Email) {
			if err := s.repo.UpdateRole(ctx, c.ID, RoleAdmin); err != nil {
				return nil, err
			}
			c.Role = RoleAdmin
			s.logger.Info().Str("clinician_id", c.ID.String()).Msg("clinician promoted to admin")
		}
		return c, nil
	case !apperr.IsNotFound(err):
		return nil, err
	}

	if strings.TrimSpace(ident.Email) == "" {
		return nil, apperr.InvalidInput("email is required to provision a clinician")
	}

	c = &Clinician{
		ID:          ident.ID,
		DisplayName: ident.DisplayName,
		Email:       strings.TrimSpace(ident.Email),
		Role:        RoleClinician,
	}
	if c.DisplayName == "" {
		c.DisplayName = c.Email
	}
	if s.isAdminEmail(c.Email) {
		c.Role = RoleAdmin
	}

	if err := s.repo.Create(ctx, c); err != nil {
		// Lost a race with a concurrent first request for the same identity.
		if apperr.IsConflict(err) {
			return s.repo.GetByID(ctx, ident.ID)
		}
		return nil, fmt.Errorf("provision clinician: %w", err)
	}

	s.logger.Info().
		Str("clinician_id", c.ID.String()).
		Str("role", string(c.Role)).
		Msg("clinician provisioned")
	return c, nil
}

func (s *Service) isAdminEmail(email string) bool {
	return s.adminEmails[strings.ToLower(strings.TrimSpace(email))]
}
