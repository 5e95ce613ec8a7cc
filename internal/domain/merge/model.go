// Package merge consolidates duplicate patient records. A merge moves every
// dependent record from a source patient to a target patient and deletes the
// source, all in one transaction.
package merge

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DependentTable is a patient-scoped table relocated by a merge.
type DependentTable struct {
	Table  string
	Column string
}

// DependentTables is the complete list of tables a merge touches. visit_note
// hangs off visit and moves with it.
var DependentTables = []DependentTable{
	{Table: "visit", Column: "patient_id"},
	{Table: "appointment", Column: "patient_id"},
	{Table: "medical_history", Column: "patient_id"},
	{Table: "medication", Column: "patient_id"},
	{Table: "allergy", Column: "patient_id"},
}

// VisitNotesKey is the Relocated entry counting notes carried along with visits.
const VisitNotesKey = "visit_note"

// Result describes a committed merge.
type Result struct {
	SurvivorID    uuid.UUID        `json:"survivor_id"`
	SourceID      uuid.UUID        `json:"source_id"`
	Relocated     map[string]int64 `json:"relocated"`
	SharesDropped int64            `json:"shares_dropped"`
	MergedAt      time.Time        `json:"merged_at"`
	Summary       string           `json:"summary"`
}

// Preview is what a merge would do, computed without mutating anything.
type Preview struct {
	SourceID     uuid.UUID        `json:"source_id"`
	TargetID     uuid.UUID        `json:"target_id"`
	Relocated    map[string]int64 `json:"relocated"`
	SharesToDrop int64            `json:"shares_to_drop"`
}

const (
	StatusMerged    = "merged"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// PairOutcome is the result of one source→target merge inside a batch.
type PairOutcome struct {
	SourceID uuid.UUID `json:"source_id"`
	TargetID uuid.UUID `json:"target_id"`
	Status   string    `json:"status"`
	Result   *Result   `json:"result,omitempty"`
	Error    string    `json:"error,omitempty"`
	err      error
}

// Err returns the underlying error of a failed pair.
func (o PairOutcome) Err() error { return o.err }

// BatchResult reports every pair of a group merge.
type BatchResult struct {
	TargetID  uuid.UUID     `json:"target_id"`
	Outcomes  []PairOutcome `json:"outcomes"`
	Merged    int           `json:"merged"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
}

// LogEntry maps to the patient_merge_log table.
type LogEntry struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	SourceID      uuid.UUID        `db:"source_patient_id" json:"source_patient_id"`
	TargetID      uuid.UUID        `db:"target_patient_id" json:"target_patient_id"`
	MergedBy      uuid.UUID        `db:"merged_by" json:"merged_by"`
	Relocated     map[string]int64 `db:"relocated" json:"relocated"`
	SharesDropped int64            `db:"shares_dropped" json:"shares_dropped"`
	MergedAt      time.Time        `db:"merged_at" json:"merged_at"`
}

func summarize(source, target uuid.UUID, relocated map[string]int64, sharesDropped int64) string {
	keys := make([]string, 0, len(relocated))
	var total int64
	for k, n := range relocated {
		keys = append(keys, k)
		if k != VisitNotesKey {
			total += n
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if relocated[k] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", relocated[k], k))
		}
	}
	detail := "no dependent records"
	if len(parts) > 0 {
		detail = strings.Join(parts, ", ")
	}
	return fmt.Sprintf("merged patient %s into %s: moved %d records (%s), dropped %d shares",
		source, target, total, detail, sharesDropped)
}
