package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/patientcore/internal/platform/apperr"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"no rows", fmt.Errorf("get patient: %w", pgx.ErrNoRows), apperr.ErrNotFound},
		{"unique", &pgconn.PgError{Code: CodeUniqueViolation}, apperr.ErrConflict},
		{"exclusion", &pgconn.PgError{Code: CodeExclusionViolation, ConstraintName: "patient_share_active_window_excl"}, apperr.ErrConflict},
		{"deadlock", &pgconn.PgError{Code: CodeDeadlockDetected}, apperr.ErrUnavailable},
		{"deadline", context.DeadlineExceeded, apperr.ErrUnavailable},
		{"network", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), apperr.ErrUnavailable},
		{"classified", apperr.Forbidden("insufficient permission"), apperr.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if !errors.Is(got, tt.kind) {
				t.Errorf("Classify(%v) = %v, want kind %v", tt.err, got, tt.kind)
			}
		})
	}
}

func TestClassify_PassesThroughServerErrors(t *testing.T) {
	syntax := &pgconn.PgError{Code: "42601"}
	got := Classify(syntax)
	if got != error(syntax) {
		t.Errorf("expected syntax error to pass through, got %v", got)
	}
	if Classify(nil) != nil {
		t.Error("expected nil to stay nil")
	}
}

func TestConstraintName(t *testing.T) {
	err := fmt.Errorf("insert share: %w", &pgconn.PgError{Code: CodeExclusionViolation, ConstraintName: "patient_share_active_window_excl"})
	if got := ConstraintName(err); got != "patient_share_active_window_excl" {
		t.Errorf("expected constraint name, got %q", got)
	}
}
