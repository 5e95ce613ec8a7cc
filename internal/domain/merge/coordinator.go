package merge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/patientcore/internal/domain/access"
	"github.com/ehr/patientcore/internal/domain/clinician"
	"github.com/ehr/patientcore/internal/domain/patient"
	"github.com/ehr/patientcore/internal/platform/apperr"
	"github.com/ehr/patientcore/internal/platform/metrics"
)

type PatientReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type AccessResolver interface {
	ResolveForConsolidation(ctx context.Context, actor *clinician.Clinician, patientID uuid.UUID) (access.Level, error)
}

const maxSurvivorHops = 64

// Coordinator performs admin-only, irreversible patient merges.
type Coordinator struct {
	store    Store
	patients PatientReader
	resolver AccessResolver
	metrics  metrics.Recorder
	logger   zerolog.Logger
	timeout  time.Duration
}

// NewCoordinator builds a coordinator. timeout bounds each merge transaction;
// zero means only the caller's deadline applies.
func NewCoordinator(store Store, patients PatientReader, resolver AccessResolver, rec metrics.Recorder, logger zerolog.Logger, timeout time.Duration) *Coordinator {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Coordinator{store: store, patients: patients, resolver: resolver, metrics: rec, logger: logger, timeout: timeout}
}

// checkPreconditions rejects the merge before anything is touched.
func (c *Coordinator) checkPreconditions(ctx context.Context, actor *clinician.Clinician, source, target uuid.UUID) error {
	if !actor.IsAdmin() {
		return apperr.Forbidden("insufficient permission: merge requires an admin")
	}
	if source == target {
		return apperr.Conflict("source and target cannot be the same")
	}
	for _, id := range []uuid.UUID{source, target} {
		level, err := c.resolver.ResolveForConsolidation(ctx, actor, id)
		if err != nil {
			return err
		}
		if !level.AtLeast(access.LevelFull) {
			return apperr.Forbidden("insufficient permission")
		}
	}
	return nil
}

// Merge moves every dependent record of source to target, drops the
// source's shares and deletes the source, atomically. Shares the source's
// owner granted on other patients are not affected. Merging the same pair
// twice fails with apperr.ErrNotFound.
func (c *Coordinator) Merge(ctx context.Context, actor *clinician.Clinician, source, target uuid.UUID) (*Result, error) {
	start := time.Now()
	if err := c.checkPreconditions(ctx, actor, source, target); err != nil {
		c.metrics.RecordMerge(metrics.OutcomeRejected, time.Since(start), 0)
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	res := &Result{SurvivorID: target, SourceID: source, Relocated: make(map[string]int64)}
	err := c.store.WithTx(ctx, func(ctx context.Context) error {
		found, err := c.store.LockPatients(ctx, source, target)
		if err != nil {
			return err
		}
		// Re-check under lock: a concurrent merge may have removed either row.
		for _, id := range []uuid.UUID{source, target} {
			if !found[id] {
				return apperr.NotFound("patient %s not found", id)
			}
		}

		counts, err := c.store.CountDependents(ctx, source)
		if err != nil {
			return err
		}
		res.Relocated[VisitNotesKey] = counts[VisitNotesKey]

		for _, t := range DependentTables {
			n, err := c.store.Relocate(ctx, t, source, target)
			if err != nil {
				return err
			}
			res.Relocated[t.Table] = n
		}

		if res.SharesDropped, err = c.store.DeleteShares(ctx, source); err != nil {
			return err
		}

		entry := &LogEntry{
			SourceID:      source,
			TargetID:      target,
			MergedBy:      actor.ID,
			Relocated:     res.Relocated,
			SharesDropped: res.SharesDropped,
		}
		if err := c.store.InsertLog(ctx, entry); err != nil {
			return err
		}
		res.MergedAt = entry.MergedAt

		return c.store.DeletePatient(ctx, source)
	})

	elapsed := time.Since(start)
	if err != nil {
		if !apperr.IsUnavailable(err) && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			err = apperr.Unavailable(err)
		}
		c.metrics.RecordMerge(metrics.OutcomeFailed, elapsed, 0)
		c.logger.Error().Err(err).
			Str("source_id", source.String()).
			Str("target_id", target.String()).
			Str("actor_id", actor.ID.String()).
			Msg("merge rolled back")
		return nil, fmt.Errorf("merge %s into %s: %w", source, target, err)
	}

	res.Summary = summarize(source, target, res.Relocated, res.SharesDropped)
	c.metrics.RecordMerge(metrics.OutcomeSuccess, elapsed, int(totalRelocated(res.Relocated)))
	c.logger.Info().
		Str("source_id", source.String()).
		Str("target_id", target.String()).
		Str("actor_id", actor.ID.String()).
		Int64("shares_dropped", res.SharesDropped).
		Dur("elapsed", elapsed).
		Msg(res.Summary)
	return res, nil
}

// Preview reports what Merge would relocate, without changing anything.
func (c *Coordinator) Preview(ctx context.Context, actor *clinician.Clinician, source, target uuid.UUID) (*Preview, error) {
	if err := c.checkPreconditions(ctx, actor, source, target); err != nil {
		return nil, err
	}
	counts, err := c.store.CountDependents(ctx, source)
	if err != nil {
		return nil, err
	}
	shares, err := c.store.CountShares(ctx, source)
	if err != nil {
		return nil, err
	}
	return &Preview{SourceID: source, TargetID: target, Relocated: counts, SharesToDrop: shares}, nil
}

// MergeGroup merges every member of group into group[0], each pair in its
// own transaction. A failed pair does not stop the rest; cancellation marks
// the remaining pairs cancelled.
func (c *Coordinator) MergeGroup(ctx context.Context, actor *clinician.Clinician, group []uuid.UUID) (*BatchResult, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("insufficient permission: merge requires an admin")
	}
	if len(group) < 2 {
		return nil, apperr.InvalidInput("a merge group needs a target and at least one source")
	}

	target := group[0]
	batch := &BatchResult{TargetID: target, Outcomes: make([]PairOutcome, 0, len(group)-1)}
	for _, source := range group[1:] {
		out := PairOutcome{SourceID: source, TargetID: target}
		if err := ctx.Err(); err != nil {
			out.Status, out.Error, out.err = StatusCancelled, "not attempted: "+err.Error(), err
			batch.Cancelled++
			batch.Outcomes = append(batch.Outcomes, out)
			continue
		}

		res, err := c.Merge(ctx, actor, source, target)
		if err != nil {
			out.Status, out.Error, out.err = StatusFailed, apperr.Message(err), err
			batch.Failed++
		} else {
			out.Status, out.Result = StatusMerged, res
			batch.Merged++
		}
		batch.Outcomes = append(batch.Outcomes, out)
	}

	c.logger.Info().
		Str("target_id", target.String()).
		Int("merged", batch.Merged).
		Int("failed", batch.Failed).
		Int("cancelled", batch.Cancelled).
		Msg("group merge finished")
	return batch, nil
}

// ResolveSurvivor follows recorded merges from patientID to the record that
// absorbed it. A patient that was never merged is its own survivor. The actor
// needs at least read on the survivor; admins always have it.
func (c *Coordinator) ResolveSurvivor(ctx context.Context, actor *clinician.Clinician, patientID uuid.UUID) (uuid.UUID, error) {
	if actor == nil {
		return uuid.Nil, apperr.Forbidden("insufficient permission")
	}
	survivor, err := c.followMerges(ctx, patientID)
	if err != nil {
		return uuid.Nil, err
	}
	level, err := c.resolver.ResolveForConsolidation(ctx, actor, survivor)
	if err != nil {
		return uuid.Nil, err
	}
	if !level.AtLeast(access.LevelRead) {
		return uuid.Nil, apperr.Forbidden("insufficient permission")
	}
	return survivor, nil
}

func (c *Coordinator) followMerges(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	current := patientID
	seen := map[uuid.UUID]bool{current: true}
	for hops := 0; hops < maxSurvivorHops; hops++ {
		entry, err := c.store.GetLogBySource(ctx, current)
		if apperr.IsNotFound(err) {
			if current == patientID {
				// Never merged: it must still exist to be a survivor.
				if _, err := c.patients.GetByID(ctx, current); err != nil {
					return uuid.Nil, err
				}
			}
			return current, nil
		}
		if err != nil {
			return uuid.Nil, err
		}
		if seen[entry.TargetID] {
			return uuid.Nil, fmt.Errorf("merge log for %s contains a cycle at %s", patientID, entry.TargetID)
		}
		seen[entry.TargetID] = true
		current = entry.TargetID
	}
	return uuid.Nil, fmt.Errorf("merge chain for %s exceeds %d hops", patientID, maxSurvivorHops)
}

func totalRelocated(relocated map[string]int64) int64 {
	var n int64
	for k, v := range relocated {
		if k != VisitNotesKey {
			n += v
		}
	}
	return n
}
