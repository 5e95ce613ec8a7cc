package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. OwningClinicianID is the single owner;
// it never changes through this package.
type Patient struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	BirthDate         *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender            *string    `db:"gender" json:"gender,omitempty"`
	NationalID        *string    `db:"national_id" json:"national_id,omitempty"`
	PassportNumber    *string    `db:"passport_number" json:"passport_number,omitempty"`
	DriversLicense    *string    `db:"drivers_license" json:"drivers_license,omitempty"`
	Email             *string    `db:"email" json:"email,omitempty"`
	Phone             *string    `db:"phone" json:"phone,omitempty"`
	AddressLine1      *string    `db:"address_line1" json:"address_line1,omitempty"`
	AddressLine2      *string    `db:"address_line2" json:"address_line2,omitempty"`
	City              *string    `db:"city" json:"city,omitempty"`
	State             *string    `db:"state" json:"state,omitempty"`
	PostalCode        *string    `db:"postal_code" json:"postal_code,omitempty"`
	Country           *string    `db:"country" json:"country,omitempty"`
	BloodType         *string    `db:"blood_type" json:"blood_type,omitempty"`
	OwningClinicianID uuid.UUID  `db:"owning_clinician_id" json:"owning_clinician_id"`
	CreatedBy         *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	UpdatedBy         *uuid.UUID `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Demographics are the fields duplicate detection compares. Empty strings
// and nil dates mean "unknown".
type Demographics struct {
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	NationalID     string     `json:"national_id,omitempty"`
	PassportNumber string     `json:"passport_number,omitempty"`
	DriversLicense string     `json:"drivers_license,omitempty"`
	Email          string     `json:"email,omitempty"`
	Phone          string     `json:"phone,omitempty"`
}

func (p *Patient) Demographics() Demographics {
	return Demographics{
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		BirthDate:      p.BirthDate,
		NationalID:     deref(p.NationalID),
		PassportNumber: deref(p.PassportNumber),
		DriversLicense: deref(p.DriversLicense),
		Email:          deref(p.Email),
		Phone:          deref(p.Phone),
	}
}

// trimSet is the whitespace stripped from matching fields. The store-side
// prefilter and its indexes trim exactly these characters.
const trimSet = " \t\n\r\v\f"

func trim(s string) string {
	return strings.Trim(s, trimSet)
}

// Normalize trims every field and truncates the birth date to a calendar day.
func (d Demographics) Normalize() Demographics {
	out := Demographics{
		FirstName:      trim(d.FirstName),
		LastName:       trim(d.LastName),
		NationalID:     trim(d.NationalID),
		PassportNumber: trim(d.PassportNumber),
		DriversLicense: trim(d.DriversLicense),
		Email:          trim(d.Email),
		Phone:          trim(d.Phone),
	}
	if d.BirthDate != nil && !d.BirthDate.IsZero() {
		day := time.Date(d.BirthDate.Year(), d.BirthDate.Month(), d.BirthDate.Day(), 0, 0, 0, 0, time.UTC)
		out.BirthDate = &day
	}
	return out
}

// IsEmpty reports whether no field usable for matching is present.
func (d Demographics) IsEmpty() bool {
	n := d.Normalize()
	nameDOB := n.FirstName != "" && n.LastName != "" && n.BirthDate != nil
	return !nameDOB && n.NationalID == "" && n.PassportNumber == "" &&
		n.DriversLicense == "" && n.Email == "" && n.Phone == ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
