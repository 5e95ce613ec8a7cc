// Package duplicate finds patient records that probably describe the same
// person. A pair is a candidate when any single signal matches; signals are
// never weighed against each other.
package duplicate

import (
	"strings"

	"github.com/ehr/patientcore/internal/domain/patient"
)

// Signal is one independent identity check. Key returns the value two
// records must share for the signal to fire, and false when the record lacks
// the fields the signal needs. Missing never matches missing.
type Signal struct {
	Name string
	Key  func(d patient.Demographics) (string, bool)
}

const (
	SignalNameDOB        = "name_dob"
	SignalNationalID     = "national_id"
	SignalPassport       = "passport"
	SignalDriversLicense = "drivers_license"
	SignalEmail          = "email"
	SignalPhone          = "phone"
)

// Signals is the complete matching policy, in reporting order.
var Signals = []Signal{
	{Name: SignalNameDOB, Key: nameDOBKey},
	{Name: SignalNationalID, Key: exact(func(d patient.Demographics) string { return d.NationalID })},
	{Name: SignalPassport, Key: exact(func(d patient.Demographics) string { return d.PassportNumber })},
	{Name: SignalDriversLicense, Key: exact(func(d patient.Demographics) string { return d.DriversLicense })},
	{Name: SignalEmail, Key: folded(func(d patient.Demographics) string { return d.Email })},
	{Name: SignalPhone, Key: folded(func(d patient.Demographics) string { return d.Phone })},
}

func nameDOBKey(d patient.Demographics) (string, bool) {
	if d.FirstName == "" || d.LastName == "" || d.BirthDate == nil {
		return "", false
	}
	return strings.ToLower(d.FirstName) + "\x00" + strings.ToLower(d.LastName) + "\x00" + d.BirthDate.Format("2006-01-02"), true
}

func exact(field func(patient.Demographics) string) func(patient.Demographics) (string, bool) {
	return func(d patient.Demographics) (string, bool) {
		v := field(d)
		return v, v != ""
	}
}

func folded(field func(patient.Demographics) string) func(patient.Demographics) (string, bool) {
	return func(d patient.Demographics) (string, bool) {
		v := strings.ToLower(field(d))
		return v, v != ""
	}
}

// Match returns the names of the signals that fire for the pair, in policy
// order. An empty result means the pair is not a candidate.
func Match(a, b patient.Demographics) []string {
	a, b = a.Normalize(), b.Normalize()
	var matched []string
	for _, s := range Signals {
		ka, ok := s.Key(a)
		if !ok {
			continue
		}
		if kb, ok := s.Key(b); ok && ka == kb {
			matched = append(matched, s.Name)
		}
	}
	return matched
}

func IsCandidate(a, b patient.Demographics) bool {
	return len(Match(a, b)) > 0
}
