package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/automaxprocs/maxprocs"

	dimensionsvc "github.com/ahrav/lakehouse/internal/app/dimension"
	extractionsvc "github.com/ahrav/lakehouse/internal/app/extraction"
	"github.com/ahrav/lakehouse/internal/app/pipeline"
	"github.com/ahrav/lakehouse/internal/app/pipeline/metrics"
	"github.com/ahrav/lakehouse/internal/config"
	"github.com/ahrav/lakehouse/internal/config/fileloader"
	"github.com/ahrav/lakehouse/internal/domain/extraction"
	kafkasource "github.com/ahrav/lakehouse/internal/infra/source/kafka"
	memorysource "github.com/ahrav/lakehouse/internal/infra/source/memory"
	postgressource "github.com/ahrav/lakehouse/internal/infra/source/postgres"
	dimensionStore "github.com/ahrav/lakehouse/internal/infra/storage/dimension/postgres"
	tableStore "github.com/ahrav/lakehouse/internal/infra/storage/tablestore/postgres"
	watermarkStore "github.com/ahrav/lakehouse/internal/infra/storage/watermark/postgres"
	"github.com/ahrav/lakehouse/pkg/common"
	"github.com/ahrav/lakehouse/pkg/common/logger"
	"github.com/ahrav/lakehouse/pkg/common/otel"
)

const serviceType = "lakehouse"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	var logg *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("LAKEHOUSE-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	logg = logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prob := 1.0
	if v := os.Getenv("OTEL_SAMPLING_RATIO"); v != "" {
		prob, err = strconv.ParseFloat(v, 64)
		if err != nil {
			logg.Error(ctx, "failed to parse OTEL_SAMPLING_RATIO", "error", err)
			os.Exit(1)
		}
	}
	tp, telemetryTeardown, err := otel.InitTelemetry(logg, otel.Config{
		ServiceName:      os.Getenv("OTEL_SERVICE_NAME"),
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Probability:      prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		logg.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(os.Getenv("OTEL_SERVICE_NAME"))

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			logg.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := envOr("POSTGRES_USER", "postgres")
		password := envOr("POSTGRES_PASSWORD", "postgres")
		host := envOr("POSTGRES_HOST", "postgres")
		dbname := envOr("POSTGRES_DB", "lakehouse")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable",
			user, password, host, dbname)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logg.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = 5
	poolCfg.MaxConns = 20
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logg.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(ctx, pool); err != nil {
		logg.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}
	logg.Info(ctx, "Migrations applied successfully. Starting application...")

	configPath := envOr("CONFIG_PATH", "config.yaml")
	cfg, err := fileloader.NewFileLoader(configPath).Load(ctx)
	if err != nil {
		logg.Error(ctx, "failed to load config", "error", err, "path", configPath)
		os.Exit(1)
	}

	sources, err := buildSources(cfg, pool, logg)
	if err != nil {
		logg.Error(ctx, "failed to build sources", "error", err)
		os.Exit(1)
	}

	mp := otel.GetMeterProvider()
	metricCollector, err := metrics.New(mp)
	if err != nil {
		logg.Error(ctx, "failed to create metrics collector", "error", err)
		os.Exit(1)
	}

	extractor := extractionsvc.NewService(watermarkStore.NewWatermarkStore(pool, tracer), logg, metricCollector, tracer)
	versioner := dimensionsvc.NewService(dimensionStore.NewDimensionStore(pool, tracer), logg, metricCollector, tracer)
	tables := tableStore.NewTableStore(pool, tracer)

	orchestrator := pipeline.NewOrchestrator(cfg, sources, extractor, versioner, tables, logg, metricCollector, tracer)

	interval := 30 * time.Second
	if v := os.Getenv("PIPELINE_INTERVAL"); v != "" {
		interval, err = time.ParseDuration(v)
		if err != nil {
			logg.Error(ctx, "failed to parse PIPELINE_INTERVAL", "error", err)
			os.Exit(1)
		}
	}

	logg.Info(ctx, "Orchestrator initialized", "pipelines", len(cfg.Pipelines), "interval", interval.String())
	ready.Store(true)

	errCh := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if _, err := orchestrator.Run(ctx); err != nil {
				errCh <- err
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	select {
	case sig := <-sigCh:
		logg.Info(ctx, "Received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logg.Error(ctx, "Pipeline error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// buildSources constructs a row source per configured source spec.
func buildSources(cfg *config.Config, pool *pgxpool.Pool, logg *logger.Logger) (map[string]extraction.RowSource, error) {
	sources := make(map[string]extraction.RowSource, len(cfg.Sources))
	for _, spec := range cfg.Sources {
		switch spec.SourceType {
		case config.SourceTypePostgres:
			sources[spec.Name] = postgressource.NewRowSource(spec.Name, pool, *spec.Postgres, spec.RateLimit, logg)
		case config.SourceTypeKafka:
			sources[spec.Name] = kafkasource.NewRowSource(spec.Name, *spec.Kafka, logg)
		case config.SourceTypeMemory:
			sources[spec.Name] = memorysource.NewRowSource(spec.Name, nil)
		default:
			return nil, fmt.Errorf("source %s: unsupported type %s", spec.Name, spec.SourceType)
		}
	}
	return sources, nil
}

// runMigrations uses golang-migrate to apply all up migrations from
// "db/migrations" over a connection drawn from the pool.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release()

	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	migrationsPath := "file://" + envOr("MIGRATIONS_DIR", "db/migrations")
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}
