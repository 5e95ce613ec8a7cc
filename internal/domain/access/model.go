package access

import (
	"time"

	"github.com/google/uuid"
)

// Share maps to the patient_share table.
type Share struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	PatientID  uuid.UUID  `db:"patient_id" json:"patient_id"`
	SharedBy   uuid.UUID  `db:"shared_by" json:"shared_by"`
	SharedWith uuid.UUID  `db:"shared_with" json:"shared_with"`
	Level      Level      `db:"permission_level" json:"permission_level"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// IsActive reports whether the share still grants access at now. Expired
// shares stay in the table but are inert.
func (s *Share) IsActive(now time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}

// CreateShareRequest is the input to ShareService.CreateShare.
type CreateShareRequest struct {
	PatientID    uuid.UUID  `json:"patient_id"`
	SharedWithID uuid.UUID  `json:"shared_with"`
	Level        string     `json:"permission_level"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}
