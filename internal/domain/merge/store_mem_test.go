package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/patientcore/internal/domain/access"
	"github.com/ehr/patientcore/internal/domain/clinician"
	"github.com/ehr/patientcore/internal/domain/patient"
	"github.com/ehr/patientcore/internal/platform/apperr"
)

type memShare struct {
	PatientID uuid.UUID
	SharedBy  uuid.UUID
}

type memState struct {
	patients   map[uuid.UUID]*patient.Patient
	dependents map[string]map[uuid.UUID]uuid.UUID // table -> record id -> patient id
	notes      map[uuid.UUID]uuid.UUID            // note id -> visit id
	shares     map[uuid.UUID]memShare
	logs       map[uuid.UUID]*LogEntry // by source
}

func (s *memState) clone() *memState {
	c := &memState{
		patients:   make(map[uuid.UUID]*patient.Patient, len(s.patients)),
		dependents: make(map[string]map[uuid.UUID]uuid.UUID, len(s.dependents)),
		notes:      make(map[uuid.UUID]uuid.UUID, len(s.notes)),
		shares:     make(map[uuid.UUID]memShare, len(s.shares)),
		logs:       make(map[uuid.UUID]*LogEntry, len(s.logs)),
	}
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for t, rows := range s.dependents {
		c.dependents[t] = make(map[uuid.UUID]uuid.UUID, len(rows))
		for k, v := range rows {
			c.dependents[t][k] = v
		}
	}
	for k, v := range s.notes {
		c.notes[k] = v
	}
	for k, v := range s.shares {
		c.shares[k] = v
	}
	for k, v := range s.logs {
		c.logs[k] = v
	}
	return c
}

// memStore is an in-memory Store with snapshot/restore transactions.
type memStore struct {
	state *memState
	clock time.Time

	failOn  string            // operation name that returns an error
	onStep  func(step string) // called before every in-transaction step
	txCount int
}

func newMemStore() *memStore {
	return &memStore{
		state: &memState{
			patients:   make(map[uuid.UUID]*patient.Patient),
			dependents: make(map[string]map[uuid.UUID]uuid.UUID),
			notes:      make(map[uuid.UUID]uuid.UUID),
			shares:     make(map[uuid.UUID]memShare),
			logs:       make(map[uuid.UUID]*LogEntry),
		},
		clock: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) step(ctx context.Context, name string) error {
	if m.onStep != nil {
		m.onStep(name)
	}
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err)
	}
	if m.failOn == name {
		return apperr.Unavailable(fmt.Errorf("injected failure at %s", name))
	}
	return nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txCount++
	snapshot := m.state.clone()
	if err := fn(ctx); err != nil {
		m.state = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		m.state = snapshot
		return apperr.Unavailable(err)
	}
	return nil
}

func (m *memStore) LockPatients(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]bool, error) {
	if err := m.step(ctx, "lock"); err != nil {
		return nil, err
	}
	found := make(map[uuid.UUID]bool)
	for _, id := range ids {
		if _, ok := m.state.patients[id]; ok {
			found[id] = true
		}
	}
	return found, nil
}

func (m *memStore) CountDependents(ctx context.Context, patientID uuid.UUID) (map[string]int64, error) {
	if err := m.step(ctx, "count"); err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, t := range DependentTables {
		for _, pid := range m.state.dependents[t.Table] {
			if pid == patientID {
				counts[t.Table]++
			}
		}
	}
	for _, visitID := range m.state.notes {
		if m.state.dependents["visit"][visitID] == patientID {
			counts[VisitNotesKey]++
		}
	}
	return counts, nil
}

func (m *memStore) CountShares(ctx context.Context, patientID uuid.UUID) (int64, error) {
	var n int64
	for _, s := range m.state.shares {
		if s.PatientID == patientID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Relocate(ctx context.Context, t DependentTable, source, target uuid.UUID) (int64, error) {
	if err := m.step(ctx, "relocate:"+t.Table); err != nil {
		return 0, err
	}
	var n int64
	for id, pid := range m.state.dependents[t.Table] {
		if pid == source {
			m.state.dependents[t.Table][id] = target
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteShares(ctx context.Context, patientID uuid.UUID) (int64, error) {
	if err := m.step(ctx, "delete_shares"); err != nil {
		return 0, err
	}
	var n int64
	for id, s := range m.state.shares {
		if s.PatientID == patientID {
			delete(m.state.shares, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) InsertLog(ctx context.Context, e *LogEntry) error {
	if err := m.step(ctx, "insert_log"); err != nil {
		return err
	}
	if _, exists := m.state.logs[e.SourceID]; exists {
		return apperr.Conflict("conflicting record exists")
	}
	e.ID = uuid.New()
	e.MergedAt = m.clock
	cp := *e
	m.state.logs[e.SourceID] = &cp
	return nil
}

func (m *memStore) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := m.step(ctx, "delete_patient"); err != nil {
		return err
	}
	if _, ok := m.state.patients[id]; !ok {
		return apperr.NotFound("patient %s not found", id)
	}
	delete(m.state.patients, id)
	return nil
}

func (m *memStore) GetLogBySource(_ context.Context, sourceID uuid.UUID) (*LogEntry, error) {
	e, ok := m.state.logs[sourceID]
	if !ok {
		return nil, apperr.NotFound("no merge recorded for patient %s", sourceID)
	}
	cp := *e
	return &cp, nil
}

// GetByID makes memStore the coordinator's PatientReader as well.
func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.state.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient %s not found", id)
	}
	cp := *p
	return &cp, nil
}

// -- helpers to seed data --

func (m *memStore) addPatient(owner uuid.UUID) uuid.UUID {
	id := uuid.New()
	m.state.patients[id] = &patient.Patient{ID: id, OwningClinicianID: owner, CreatedAt: m.clock}
	return id
}

func (m *memStore) addDependent(table string, patientID uuid.UUID) uuid.UUID {
	if m.state.dependents[table] == nil {
		m.state.dependents[table] = make(map[uuid.UUID]uuid.UUID)
	}
	id := uuid.New()
	m.state.dependents[table][id] = patientID
	return id
}

func (m *memStore) addNote(visitID uuid.UUID) {
	m.state.notes[uuid.New()] = visitID
}

func (m *memStore) addShare(patientID, sharedBy uuid.UUID) uuid.UUID {
	id := uuid.New()
	m.state.shares[id] = memShare{PatientID: patientID, SharedBy: sharedBy}
	return id
}

func (m *memStore) dependentsOf(patientID uuid.UUID) int {
	n := 0
	for _, rows := range m.state.dependents {
		for _, pid := range rows {
			if pid == patientID {
				n++
			}
		}
	}
	return n
}

// -- resolver --

// memResolver applies the same rules as access.Resolver over memStore:
// admins get full for consolidation, owners get full, everyone else none.
type memResolver struct {
	store *memStore
}

func (r *memResolver) ResolveForConsolidation(_ context.Context, actor *clinician.Clinician, id uuid.UUID) (access.Level, error) {
	p, ok := r.store.state.patients[id]
	if !ok {
		return access.LevelNone, apperr.NotFound("patient %s not found", id)
	}
	if actor.IsAdmin() || p.OwningClinicianID == actor.ID {
		return access.LevelFull, nil
	}
	return access.LevelNone, nil
}
