package clinician

import (
	"time"

	"github.com/google/uuid"
)

// Role is authoritative for the admin-only consolidation operations.
type Role string

const (
	RoleClinician Role = "clinician"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleClinician || r == RoleAdmin
}

// Clinician maps to the clinician table.
type Clinician struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Email       string    `db:"email" json:"email"`
	Role        Role      `db:"role" json:"role"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

func (c *Clinician) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}
