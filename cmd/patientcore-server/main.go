package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.elastic.co/ecszerolog"

	"github.com/ehr/patientcore/internal/config"
	"github.com/ehr/patientcore/internal/domain/access"
	"github.com/ehr/patientcore/internal/domain/clinician"
	"github.com/ehr/patientcore/internal/domain/duplicate"
	"github.com/ehr/patientcore/internal/domain/merge"
	"github.com/ehr/patientcore/internal/domain/patient"
	"github.com/ehr/patientcore/internal/platform/auth"
	"github.com/ehr/patientcore/internal/platform/db"
	"github.com/ehr/patientcore/internal/platform/metrics"
	"github.com/ehr/patientcore/internal/platform/middleware"
	"github.com/ehr/patientcore/migrations"
)

// Merge endpoints run under MERGE_TIMEOUT inside the coordinator instead of
// the request timeout.
var mergePrefixes = []string{"/api/v1/merges", "/api/v1/duplicates/groups/merge"}

func main() {
	rootCmd := &cobra.Command{
		Use:   "patientcore-server",
		Short: "Patient access control and record consolidation service",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	})
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(duplicatesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger writes JSON, ECS JSON for Elastic ingestion, or console output
// in development.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	switch {
	case cfg.IsDev():
		base = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	case cfg.LogFormat == "ecs":
		base = ecszerolog.New(out)
	default:
		base = zerolog.New(out)
	}
	return base.Level(level).With().Timestamp().Str("service", "patientcore").Logger()
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		Schema:      cfg.DBSchema,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
	})
}

// services is the wired domain layer shared by the server and the CLI.
type services struct {
	clinicians *clinician.Service
	resolver   *access.Resolver
	shares     *access.ShareService
	detector   *duplicate.Detector
	merges     *merge.Coordinator
}

func buildServices(pool *pgxpool.Pool, cfg *config.Config, rec metrics.Recorder, logger zerolog.Logger) *services {
	clinicianRepo := clinician.NewRepo(pool)
	patientRepo := patient.NewRepo(pool)
	shareRepo := access.NewShareRepo(pool)

	clinicianSvc := clinician.NewService(clinicianRepo, cfg.AdminEmails, logger)
	resolver := access.NewResolver(patientRepo, shareRepo, rec)
	return &services{
		clinicians: clinicianSvc,
		resolver:   resolver,
		shares:     access.NewShareService(resolver, shareRepo, patientRepo, clinicianRepo, rec, logger),
		detector:   duplicate.NewDetector(patientRepo, resolver, rec, logger),
		merges:     merge.NewCoordinator(merge.NewStore(pool), patientRepo, resolver, rec, logger, cfg.MergeTimeout),
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	var rec metrics.Recorder = metrics.Nop{}
	reg := prometheus.NewRegistry()
	if cfg.MetricsEnabled {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec = metrics.NewCollector(reg)
	}

	svc := buildServices(pool, cfg, rec, logger)
	e := newServer(cfg, svc, pool, reg, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.MergeTimeout+5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(cfg *config.Config, svc *services, pinger db.Pinger, gatherer prometheus.Gatherer, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, mergePrefixes...))
	if cfg.BodyLimit != "" {
		e.Use(echomw.BodyLimit(cfg.BodyLimit))
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))

	authCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development auth enabled, requests without a token run as the development clinician")
		e.Use(auth.DevAuthMiddleware(authCfg, svc.clinicians))
	} else {
		e.Use(auth.JWTMiddleware(authCfg, svc.clinicians))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pinger))
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler(gatherer)))
	}

	apiV1 := e.Group("/api/v1", auth.RequireClinician())
	access.NewHandler(svc.resolver, svc.shares).RegisterRoutes(apiV1)
	duplicate.NewHandler(svc.detector, logger).RegisterRoutes(apiV1)
	merge.NewHandler(svc.merges).RegisterRoutes(apiV1)

	return e
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				schema := schemaFlag(cmd, cfg)
				count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to schema %s.\n", count, schema)
				return nil
			})
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				schema := schemaFlag(cmd, cfg)
				statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), schema, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func schemaFlag(cmd *cobra.Command, cfg *config.Config) string {
	if s, _ := cmd.Flags().GetString("schema"); s != "" {
		return s
	}
	return cfg.DBSchema
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func duplicatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Find and consolidate duplicate patient records",
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "List every group of likely duplicate patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svc *services, actor *clinician.Clinician) error {
				groups, err := svc.detector.FindAllDuplicateGroups(ctx, actor)
				if err != nil {
					return err
				}
				printGroups(cmd.OutOrStdout(), groups)
				return nil
			})
		},
	}
	scanCmd.Flags().String("actor", "", "Admin clinician id performing the scan")
	cmd.AddCommand(scanCmd)

	mergeCmd := &cobra.Command{
		Use:   "merge-group",
		Short: "Merge a group of patients into the first id",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("ids")
			ids, err := parseIDs(raw)
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, svc *services, actor *clinician.Clinician) error {
				batch, err := svc.merges.MergeGroup(ctx, actor, ids)
				if err != nil {
					return err
				}
				printBatch(cmd.OutOrStdout(), batch)
				if batch.Failed > 0 {
					return fmt.Errorf("%d of %d merges failed", batch.Failed, len(batch.Outcomes))
				}
				return nil
			})
		},
	}
	mergeCmd.Flags().String("actor", "", "Admin clinician id performing the merge")
	mergeCmd.Flags().String("ids", "", "Comma separated patient ids; the first survives")
	cmd.AddCommand(mergeCmd)

	return cmd
}

func withPool(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

// withServices resolves --actor to a stored clinician so CLI operations go
// through the same permission checks as the HTTP API.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *services, actor *clinician.Clinician) error) error {
	raw, _ := cmd.Flags().GetString("actor")
	actorID, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("--actor must be a clinician id: %w", err)
	}
	return withPool(cmd, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		logger := newLogger(cfg, cmd.ErrOrStderr())
		svc := buildServices(pool, cfg, metrics.Nop{}, logger)
		actor, err := svc.clinicians.Get(ctx, actorID)
		if err != nil {
			return fmt.Errorf("load actor: %w", err)
		}
		return fn(ctx, svc, actor)
	})
}

func parseIDs(raw string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("invalid patient id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	if len(ids) < 2 {
		return nil, fmt.Errorf("--ids needs at least two patient ids")
	}
	return ids, nil
}

func printGroups(w io.Writer, groups []duplicate.Group) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No duplicate groups found.")
		return
	}
	for i, g := range groups {
		fmt.Fprintf(w, "Group %d (%s)\n", i+1, strings.Join(g.Signals, ", "))
		for j, p := range g.Patients {
			marker := "  "
			if j == 0 {
				marker = "* "
			}
			fmt.Fprintf(w, "  %s%s  %s\n", marker, p.ID, p.FullName())
		}
	}
}

func printBatch(w io.Writer, batch *merge.BatchResult) {
	for _, o := range batch.Outcomes {
		line := fmt.Sprintf("%s -> %s  %s", o.SourceID, o.TargetID, o.Status)
		if o.Error != "" {
			line += "  " + o.Error
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "merged=%d failed=%d cancelled=%d\n", batch.Merged, batch.Failed, batch.Cancelled)
}
