package duplicate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/patientcore/internal/domain/access"
	"github.com/ehr/patientcore/internal/domain/clinician"
	"github.com/ehr/patientcore/internal/domain/patient"
	"github.com/ehr/patientcore/internal/platform/apperr"
	"github.com/ehr/patientcore/internal/platform/auth"
)

// -- Mock Patient Source --

type mockSource struct {
	patients []*patient.Patient
	err      error
	searched []patient.Demographics
	mu       sync.Mutex
}

func (m *mockSource) ListAll(context.Context) ([]*patient.Patient, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.patients, nil
}

// SearchByDemographics returns everything, newest first, so the detector's
// own filtering and ordering are what the tests observe.
func (m *mockSource) SearchByDemographics(_ context.Context, d patient.Demographics) ([]*patient.Patient, error) {
	m.mu.Lock()
	m.searched = append(m.searched, d)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*patient.Patient, len(m.patients))
	for i, p := range m.patients {
		out[len(out)-1-i] = p
	}
	return out, nil
}

// -- Mock Resolver --

type mockResolver struct {
	levels map[uuid.UUID]access.Level
	errs   map[uuid.UUID]error
}

func (m *mockResolver) Resolve(_ context.Context, _ *clinician.Clinician, id uuid.UUID) (access.Level, error) {
	if err := m.errs[id]; err != nil {
		return access.LevelNone, err
	}
	return m.levels[id], nil
}

func scenarioPatients() (marcus, marc, other *patient.Patient) {
	marcus = &patient.Patient{ID: uuid.New(), FirstName: "Marcus", LastName: "Campbell", BirthDate: date("1990-05-02"), NationalID: str("123456789A"), CreatedAt: epoch}
	marc = &patient.Patient{ID: uuid.New(), FirstName: "Marc", LastName: "Campbell-Smith", BirthDate: date("1990-05-02"), NationalID: str("123456789A"), CreatedAt: epoch.Add(1)}
	other = &patient.Patient{ID: uuid.New(), FirstName: "Someone", LastName: "Else", NationalID: str("999"), CreatedAt: epoch.Add(2)}
	return
}

var (
	admin    = &clinician.Clinician{ID: uuid.New(), Role: clinician.RoleAdmin}
	ordinary = &clinician.Clinician{ID: uuid.New(), Role: clinician.RoleClinician}
)

func TestFindCandidates_FiltersWithSignals(t *testing.T) {
	marcus, marc, other := scenarioPatients()
	src := &mockSource{patients: []*patient.Patient{marcus, marc, other}}
	det := NewDetector(src, &mockResolver{}, nil, zerolog.Nop())

	got, err := det.FindCandidates(context.Background(), patient.Demographics{NationalID: " 123456789A "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Patient.ID != marcus.ID || got[1].Patient.ID != marc.ID {
		t.Error("expected candidates oldest first")
	}
	if got[0].Signals[0] != SignalNationalID {
		t.Errorf("expected national_id signal, got %v", got[0].Signals)
	}
	if src.searched[0].NationalID != "123456789A" {
		t.Errorf("expected normalized input to reach the store, got %q", src.searched[0].NationalID)
	}
}

func TestFindCandidates_RequiresUsableField(t *testing.T) {
	det := NewDetector(&mockSource{}, &mockResolver{}, nil, zerolog.Nop())

	for _, d := range []patient.Demographics{
		{},
		{FirstName: "Only", LastName: "Name"},
		{Email: "   "},
	} {
		if _, err := det.FindCandidates(context.Background(), d); !apperr.IsInvalidInput(err) {
			t.Errorf("expected invalid input for %+v, got %v", d, err)
		}
	}
}

func TestFindCandidates_StoreFailureSurfaces(t *testing.T) {
	src := &mockSource{err: apperr.Unavailable(errors.New("down"))}
	det := NewDetector(src, &mockResolver{}, nil, zerolog.Nop())

	got, err := det.FindCandidates(context.Background(), patient.Demographics{Email: "a@b.c"})
	if !apperr.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if got != nil {
		t.Error("no results may be fabricated on failure")
	}
}

func TestFindCandidatesFor_ScopesToReadable(t *testing.T) {
	marcus, marc, _ := scenarioPatients()
	src := &mockSource{patients: []*patient.Patient{marcus, marc}}
	res := &mockResolver{levels: map[uuid.UUID]access.Level{marcus.ID: access.LevelRead, marc.ID: access.LevelNone}}
	det := NewDetector(src, res, nil, zerolog.Nop())

	got, err := det.FindCandidatesFor(context.Background(), ordinary, patient.Demographics{NationalID: "123456789A"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Patient.ID != marcus.ID {
		t.Errorf("expected only the readable patient, got %+v", got)
	}
}

func TestFindCandidatesFor_SkipsVanishedPatients(t *testing.T) {
	marcus, marc, _ := scenarioPatients()
	src := &mockSource{patients: []*patient.Patient{marcus, marc}}
	res := &mockResolver{
		levels: map[uuid.UUID]access.Level{marcus.ID: access.LevelFull},
		errs:   map[uuid.UUID]error{marc.ID: apperr.NotFound("patient not found")},
	}
	det := NewDetector(src, res, nil, zerolog.Nop())

	got, err := det.FindCandidatesFor(context.Background(), ordinary, patient.Demographics{NationalID: "123456789A"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 candidate, got %d", len(got))
	}
}

func TestFindCandidatesFor_ResolverFailure(t *testing.T) {
	marcus, _, _ := scenarioPatients()
	src := &mockSource{patients: []*patient.Patient{marcus}}
	res := &mockResolver{errs: map[uuid.UUID]error{marcus.ID: apperr.Unavailable(errors.New("timeout"))}}
	det := NewDetector(src, res, nil, zerolog.Nop())

	if _, err := det.FindCandidatesFor(context.Background(), ordinary, patient.Demographics{NationalID: "123456789A"}); !apperr.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestFindAllDuplicateGroups_AdminOnly(t *testing.T) {
	marcus, marc, other := scenarioPatients()
	src := &mockSource{patients: []*patient.Patient{marcus, marc, other}}
	det := NewDetector(src, &mockResolver{}, nil, zerolog.Nop())

	if _, err := det.FindAllDuplicateGroups(context.Background(), ordinary); !apperr.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	groups, err := det.FindAllDuplicateGroups(context.Background(), admin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Patients) != 2 || groups[0].Target().ID != marcus.ID {
		t.Errorf("unexpected groups: %+v", groups)
	}
}

func TestFindAllDuplicateGroups_Transitive(t *testing.T) {
	a, b, c := newPatient("A", 0), newPatient("B", 1), newPatient("C", 2)
	a.Email = str("a@mail.test")
	b.Email = str("a@mail.test")
	b.Phone = str("555")
	c.Phone = str("555")
	det := NewDetector(&mockSource{patients: []*patient.Patient{a, b, c}}, &mockResolver{}, nil, zerolog.Nop())

	groups, err := det.FindAllDuplicateGroups(context.Background(), admin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Patients) != 3 {
		t.Fatalf("expected A, B and C in one group, got %+v", groups)
	}
}

func TestHandler_FindCandidates_FailsOpen(t *testing.T) {
	det := NewDetector(&mockSource{err: apperr.Unavailable(errors.New("down"))}, &mockResolver{}, nil, zerolog.Nop())
	h := NewHandler(det, zerolog.Nop())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/duplicates/candidates", strings.NewReader(`{"email":"a@b.c"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithClinician(req.Context(), ordinary))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.FindCandidates(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty list, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_FindCandidates_BadBirthDate(t *testing.T) {
	h := NewHandler(NewDetector(&mockSource{}, &mockResolver{}, nil, zerolog.Nop()), zerolog.Nop())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"first_name":"A","last_name":"B","birth_date":"02/05/1990"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	if err := h.FindCandidates(c); !apperr.IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestHandler_FindCandidates_ScenarioMatch(t *testing.T) {
	marcus, marc, _ := scenarioPatients()
	res := &mockResolver{levels: map[uuid.UUID]access.Level{marcus.ID: access.LevelFull, marc.ID: access.LevelFull}}
	h := NewHandler(NewDetector(&mockSource{patients: []*patient.Patient{marcus, marc}}, res, nil, zerolog.Nop()), zerolog.Nop())

	e := echo.New()
	body := `{"first_name":"Marc","last_name":"Campbell-Smith","birth_date":"1990-05-02","national_id":"123456789A"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithClinician(req.Context(), ordinary))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.FindCandidates(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), marcus.ID.String()) {
		t.Errorf("expected Marcus Campbell among candidates, got %s", rec.Body.String())
	}
}

func TestHandler_ListGroups_Paged(t *testing.T) {
	marcus, marc, other := scenarioPatients()
	x, y := newPatient("X", 3), newPatient("Y", 4)
	x.Email = str("shared@mail.test")
	y.Email = str("shared@mail.test")
	src := &mockSource{patients: []*patient.Patient{marcus, marc, other, x, y}}
	h := NewHandler(NewDetector(src, &mockResolver{}, nil, zerolog.Nop()), zerolog.Nop())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/duplicates/groups?limit=1", nil)
	req = req.WithContext(auth.WithClinician(req.Context(), admin))
	rec := httptest.NewRecorder()

	if err := h.ListGroups(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data    []json.RawMessage `json:"data"`
		Total   int               `json:"total"`
		HasMore bool              `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 2 || len(page.Data) != 1 || !page.HasMore {
		t.Errorf("expected first of two groups, got %s", rec.Body.String())
	}
}
