package access

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/patientcore/internal/domain/clinician"
	"github.com/ehr/patientcore/internal/domain/patient"
	"github.com/ehr/patientcore/internal/platform/apperr"
)

// -- Mock Patient Repository --

type mockPatients struct {
	patients map[uuid.UUID]*patient.Patient
	err      error
}

func (m *mockPatients) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient %s not found", id)
	}
	cp := *p
	return &cp, nil
}

// -- Mock Clinician Repository --

type mockClinicians struct {
	clinicians map[uuid.UUID]*clinician.Clinician
}

func (m *mockClinicians) GetByID(_ context.Context, id uuid.UUID) (*clinician.Clinician, error) {
	c, ok := m.clinicians[id]
	if !ok {
		return nil, apperr.NotFound("clinician %s not found", id)
	}
	cp := *c
	return &cp, nil
}

// -- Mock Share Repository --

// mockShares enforces the same one-active-share-per-pair rule as the
// database exclusion constraint.
type mockShares struct {
	shares  map[uuid.UUID]*Share
	now     func() time.Time
	findErr error
}

func newMockShares(now func() time.Time) *mockShares {
	return &mockShares{shares: make(map[uuid.UUID]*Share), now: now}
}

func (m *mockShares) Create(_ context.Context, s *Share) error {
	now := m.now()
	for _, existing := range m.shares {
		if existing.PatientID == s.PatientID && existing.SharedWith == s.SharedWith && existing.IsActive(now) {
			return apperr.Conflict("already shared with this clinician")
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = now
	cp := *s
	m.shares[s.ID] = &cp
	return nil
}

func (m *mockShares) GetByID(_ context.Context, id uuid.UUID) (*Share, error) {
	s, ok := m.shares[id]
	if !ok {
		return nil, apperr.NotFound("share %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (m *mockShares) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.shares[id]; !ok {
		return apperr.NotFound("share %s not found", id)
	}
	delete(m.shares, id)
	return nil
}

func (m *mockShares) FindActive(_ context.Context, patientID, sharedWith uuid.UUID, now time.Time) (*Share, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, s := range m.shares {
		if s.PatientID == patientID && s.SharedWith == sharedWith && s.IsActive(now) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("no active share")
}

func (m *mockShares) ListActiveByPatient(_ context.Context, patientID uuid.UUID, now time.Time) ([]*Share, error) {
	return m.list(func(s *Share) bool { return s.PatientID == patientID }, now), nil
}

func (m *mockShares) ListActiveByRecipient(_ context.Context, sharedWith uuid.UUID, now time.Time) ([]*Share, error) {
	return m.list(func(s *Share) bool { return s.SharedWith == sharedWith }, now), nil
}

func (m *mockShares) list(keep func(*Share) bool, now time.Time) []*Share {
	var out []*Share
	for _, s := range m.shares {
		if keep(s) && s.IsActive(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// -- Fixture --

type fixture struct {
	clock      time.Time
	patients   *mockPatients
	clinicians *mockClinicians
	shares     *mockShares
	resolver   *Resolver
	svc        *ShareService

	alice, bob, carol, admin *clinician.Clinician
	alicePatient             *patient.Patient
}

func newFixture() *fixture {
	f := &fixture{clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	now := func() time.Time { return f.clock }

	f.alice = &clinician.Clinician{ID: uuid.New(), DisplayName: "Dr Alice", Email: "alice@clinic.test", Role: clinician.RoleClinician}
	f.bob = &clinician.Clinician{ID: uuid.New(), DisplayName: "Dr Bob", Email: "bob@clinic.test", Role: clinician.RoleClinician}
	f.carol = &clinician.Clinician{ID: uuid.New(), DisplayName: "Dr Carol", Email: "carol@clinic.test", Role: clinician.RoleClinician}
	f.admin = &clinician.Clinician{ID: uuid.New(), DisplayName: "Admin", Email: "admin@clinic.test", Role: clinician.RoleAdmin}
	f.alicePatient = &patient.Patient{ID: uuid.New(), FirstName: "Marcus", LastName: "Campbell", OwningClinicianID: f.alice.ID}

	f.patients = &mockPatients{patients: map[uuid.UUID]*patient.Patient{f.alicePatient.ID: f.alicePatient}}
	f.clinicians = &mockClinicians{clinicians: map[uuid.UUID]*clinician.Clinician{
		f.alice.ID: f.alice, f.bob.ID: f.bob, f.carol.ID: f.carol, f.admin.ID: f.admin,
	}}
	f.shares = newMockShares(now)

	f.resolver = NewResolver(f.patients, f.shares, nil)
	f.resolver.now = now
	f.svc = NewShareService(f.resolver, f.shares, f.patients, f.clinicians, nil, zerolog.Nop())
	f.svc.now = now
	return f
}

func (f *fixture) share(t testingT, from *clinician.Clinician, to *clinician.Clinician, level string, expires *time.Time) *Share {
	t.Helper()
	s, err := f.svc.CreateShare(context.Background(), from, CreateShareRequest{
		PatientID:    f.alicePatient.ID,
		SharedWithID: to.ID,
		Level:        level,
		ExpiresAt:    expires,
	})
	if err != nil {
		t.Fatalf("share %s -> %s: %v", from.DisplayName, to.DisplayName, err)
	}
	return s
}

type testingT interface {
	Helper()
	Fatalf(format string, args ...interface{})
}
