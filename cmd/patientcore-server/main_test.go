package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ehr/patientcore/internal/config"
	"github.com/ehr/patientcore/internal/domain/duplicate"
	"github.com/ehr/patientcore/internal/domain/merge"
	"github.com/ehr/patientcore/internal/domain/patient"
	"github.com/ehr/patientcore/internal/platform/metrics"
)

func TestParseIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	ids, err := parseIDs(" " + a.String() + ", " + b.String() + ",")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != a || ids[1] != b {
		t.Errorf("expected [%s %s], got %v", a, b, ids)
	}

	if _, err := parseIDs(a.String()); err == nil {
		t.Error("expected error for a single id")
	}
	if _, err := parseIDs(a.String() + ",not-a-uuid"); err == nil {
		t.Error("expected error for malformed id")
	}
}

func TestNewLogger_Level(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := newLogger(&config.Config{Env: "production", LogLevel: tt.level}, &bytes.Buffer{})
			if got := logger.GetLevel(); got != tt.want {
				t.Errorf("level = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewLogger_JSONOutsideDev(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&config.Config{Env: "production", LogLevel: "info"}, &buf)
	logger.Info().Str("k", "v").Msg("hello")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"k":"v"`) {
		t.Errorf("expected JSON log line, got %q", buf.String())
	}
}

func TestPrintGroups(t *testing.T) {
	a := &patient.Patient{ID: uuid.New(), FirstName: "Marcus", LastName: "Campbell"}
	b := &patient.Patient{ID: uuid.New(), FirstName: "Marc", LastName: "Campbell-Smith"}

	var buf bytes.Buffer
	printGroups(&buf, []duplicate.Group{{Patients: []*patient.Patient{a, b}, Signals: []string{"national_id"}}})
	out := buf.String()
	if !strings.Contains(out, "Group 1 (national_id)") {
		t.Errorf("missing group header: %q", out)
	}
	if !strings.Contains(out, "* "+a.ID.String()+"  Marcus Campbell") {
		t.Errorf("expected survivor marked first with full name: %q", out)
	}

	buf.Reset()
	printGroups(&buf, nil)
	if !strings.Contains(buf.String(), "No duplicate groups") {
		t.Errorf("unexpected empty output: %q", buf.String())
	}
}

func TestPrintBatch(t *testing.T) {
	target := uuid.New()
	batch := &merge.BatchResult{
		TargetID: target,
		Outcomes: []merge.PairOutcome{
			{SourceID: uuid.New(), TargetID: target, Status: merge.StatusMerged},
			{SourceID: uuid.New(), TargetID: target, Status: merge.StatusFailed, Error: "patient not found"},
		},
		Merged: 1,
		Failed: 1,
	}
	var buf bytes.Buffer
	printBatch(&buf, batch)
	if !strings.Contains(buf.String(), "patient not found") || !strings.Contains(buf.String(), "merged=1 failed=1 cancelled=0") {
		t.Errorf("unexpected batch output: %q", buf.String())
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func testServerConfig() *config.Config {
	return &config.Config{
		Env:            "production",
		AuthSigningKey: strings.Repeat("k", 32),
		RequestTimeout: time.Second,
		MergeTimeout:   time.Second,
		MetricsEnabled: true,
	}
}

func TestNewServer_PublicRoutes(t *testing.T) {
	cfg := testServerConfig()
	reg := prometheus.NewRegistry()
	rec := metrics.NewCollector(reg)
	rec.RecordShareRevoked()
	e := newServer(cfg, buildServices(nil, cfg, rec, zerolog.Nop()), fakePinger{}, reg, zerolog.Nop())

	for _, path := range []string{"/health", "/health/db", "/metrics"} {
		w := httptest.NewRecorder()
		e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, w.Code)
		}
	}
}

func TestNewServer_DBHealthUnavailable(t *testing.T) {
	cfg := testServerConfig()
	e := newServer(cfg, buildServices(nil, cfg, metrics.Nop{}, zerolog.Nop()), fakePinger{err: errors.New("down")}, prometheus.NewRegistry(), zerolog.Nop())

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/db", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestNewServer_APIRequiresToken(t *testing.T) {
	cfg := testServerConfig()
	e := newServer(cfg, buildServices(nil, cfg, metrics.Nop{}, zerolog.Nop()), fakePinger{}, prometheus.NewRegistry(), zerolog.Nop())

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/shares/incoming", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"request_id"`) {
		t.Errorf("expected request id in error body, got %s", w.Body.String())
	}
}

func TestNewServer_MetricsDisabled(t *testing.T) {
	cfg := testServerConfig()
	cfg.MetricsEnabled = false
	e := newServer(cfg, buildServices(nil, cfg, metrics.Nop{}, zerolog.Nop()), fakePinger{}, prometheus.NewRegistry(), zerolog.Nop())

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code == http.StatusOK {
		t.Error("expected /metrics to be absent when metrics are disabled")
	}
}

func TestNewServer_CORSPreflight(t *testing.T) {
	cfg := testServerConfig()
	cfg.CORSOrigins = []string{"https://app.clinic.test"}
	e := newServer(cfg, buildServices(nil, cfg, metrics.Nop{}, zerolog.Nop()), fakePinger{}, prometheus.NewRegistry(), zerolog.Nop())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/patients/"+uuid.NewString()+"/shares", nil)
	req.Header.Set("Origin", "https://app.clinic.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.clinic.test" {
		t.Errorf("unexpected allow origin %q", got)
	}
}

func TestNewLogger_ECSFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&config.Config{Env: "production", LogLevel: "info", LogFormat: "ecs"}, &buf)
	logger.Info().Msg("merged")
	if !strings.Contains(buf.String(), "ecs.version") {
		t.Errorf("expected ECS fields, got %q", buf.String())
	}
}
