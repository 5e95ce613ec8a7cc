package duplicate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/patientcore/internal/domain/access"
	"github.com/ehr/patientcore/internal/domain/clinician"
	"github.com/ehr/patientcore/internal/domain/patient"
	"github.com/ehr/patientcore/internal/platform/apperr"
	"github.com/ehr/patientcore/internal/platform/metrics"
)

// PatientSource is the read side of the patient repository.
type PatientSource interface {
	ListAll(ctx context.Context) ([]*patient.Patient, error)
	SearchByDemographics(ctx context.Context, d patient.Demographics) ([]*patient.Patient, error)
}

type AccessResolver interface {
	Resolve(ctx context.Context, actor *clinician.Clinician, patientID uuid.UUID) (access.Level, error)
}

// Candidate is a stored patient that matches the supplied demographics.
type Candidate struct {
	Patient *patient.Patient `json:"patient"`
	Signals []string         `json:"signals"`
}

const defaultResolveConcurrency = 8

// Detector only reads. It never creates, updates or merges records.
type Detector struct {
	patients    PatientSource
	resolver    AccessResolver
	metrics     metrics.Recorder
	logger      zerolog.Logger
	concurrency int
}

func NewDetector(patients PatientSource, resolver AccessResolver, rec metrics.Recorder, logger zerolog.Logger) *Detector {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Detector{
		patients:    patients,
		resolver:    resolver,
		metrics:     rec,
		logger:      logger,
		concurrency: defaultResolveConcurrency,
	}
}

// FindCandidates returns every stored patient that matches d on at least one
// signal, oldest first. It is identity-agnostic; callers scope the result.
func (d *Detector) FindCandidates(ctx context.Context, demo patient.Demographics) ([]Candidate, error) {
	demo = demo.Normalize()
	if demo.IsEmpty() {
		return nil, apperr.InvalidInput("at least one of name with birth date, national id, passport, driver's license, email or phone is required")
	}

	rows, err := d.patients.SearchByDemographics(ctx, demo)
	if err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}

	// The store query is a coarse prefilter; the signals decide.
	var out []Candidate
	for _, p := range rows {
		if matched := Match(demo, p.Demographics()); len(matched) > 0 {
			out = append(out, Candidate{Patient: p, Signals: matched})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return olderThan(out[i].Patient, out[j].Patient) })
	return out, nil
}

// FindCandidatesFor is FindCandidates restricted to patients the actor can
// at least read.
func (d *Detector) FindCandidatesFor(ctx context.Context, actor *clinician.Clinician, demo patient.Demographics) ([]Candidate, error) {
	all, err := d.FindCandidates(ctx, demo)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return all, nil
	}

	visible := make([]bool, len(all))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i := range all {
		g.Go(func() error {
			level, err := d.resolver.Resolve(gctx, actor, all[i].Patient.ID)
			if err != nil {
				// Merged or deleted since the search ran.
				if apperr.IsNotFound(err) {
					return nil
				}
				return err
			}
			visible[i] = level.AtLeast(access.LevelRead)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scope candidates: %w", err)
	}

	out := make([]Candidate, 0, len(all))
	for i, c := range all {
		if visible[i] {
			out = append(out, c)
		}
	}
	return out, nil
}

// FindAllDuplicateGroups scans every patient and returns the transitive
// duplicate groups. Admin only.
func (d *Detector) FindAllDuplicateGroups(ctx context.Context, actor *clinician.Clinician) ([]Group, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("insufficient permission: duplicate scans require an admin")
	}

	start := time.Now()
	all, err := d.patients.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	groups := GroupPatients(all)
	elapsed := time.Since(start)

	d.metrics.RecordDuplicateScan(len(groups), elapsed)
	d.logger.Info().
		Str("actor_id", actor.ID.String()).
		Int("patients", len(all)).
		Int("groups", len(groups)).
		Dur("elapsed", elapsed).
		Msg("duplicate scan completed")
	return groups, nil
}
