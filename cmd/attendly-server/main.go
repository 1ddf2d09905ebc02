package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/schedule"
	"github.com/attendly/server/internal/attendance/service"
	"github.com/attendly/server/internal/attendance/store"
	"github.com/attendly/server/internal/attendance/store/memory"
	"github.com/attendly/server/internal/attendance/store/postgres"
	sqlitestore "github.com/attendly/server/internal/attendance/store/sqlite"
	"github.com/attendly/server/internal/attendance/tracker"
	"github.com/attendly/server/internal/broadcast"
	"github.com/attendly/server/internal/config"
	"github.com/attendly/server/internal/db"
	"github.com/attendly/server/internal/grpcapi"
	"github.com/attendly/server/internal/httpapi"
	"github.com/attendly/server/internal/metrics"
	"github.com/attendly/server/internal/recognizer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel).With("service", "attendly-server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, stop context.CancelFunc, cfg config.Config, logger *slog.Logger) error {
	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Storage
	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env, Logger: logger})
	if err != nil {
		return err
	}
	defer conn.Close()
	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{}); err != nil {
			return err
		}
	}
	writer := db.NewWorker(conn, db.WithObserver(m.ObserveWrite))
	defer writer.Close()

	sqlCatalog := sqlitestore.NewCatalog(conn, writer)
	sessions, err := sqlCatalog.LoadSessions(ctx)
	if err != nil {
		return err
	}
	catalog := memory.NewCatalog()
	catalog.ReplaceSessions(sessions)
	logger.Info("sessions loaded", "count", len(sessions))

	events := sqlitestore.NewEventLog(conn, writer)
	devices := sqlitestore.NewDeviceStore(conn, writer)

	records, pool, err := openRecords(ctx, cfg, conn, writer)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	tr, rdb, err := openTracker(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// Engine
	tt, err := schedule.NewTimetable(cfg.Timetable, logger)
	if err != nil {
		return fmt.Errorf("timetable: %w", err)
	}
	resolver := schedule.NewResolver(catalog, tt, cfg.Timezone, logger)

	rec, err := newRecognizer(cfg, logger)
	if err != nil {
		return err
	}

	hub := broadcast.NewHub(cfg.AllowedOrigins, logger)
	defer hub.Close()
	outcomes := broadcast.Multi{hub}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := broadcast.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return err
		}
		defer k.Close(context.Background())
		outcomes = append(outcomes, k)
	}

	metrics.RegisterGauges(reg, metrics.Gauges{
		TimetableFallbacks: tt.Fallbacks,
		LiveClients:        hub.Clients,
		DroppedBroadcasts:  hub.Dropped,
	})

	svcCfg := service.Config{
		LateAfter:         cfg.LateAfter,
		TrackerGrace:      cfg.TrackerGrace,
		RecognizerTimeout: cfg.RecognizerTimeout,
		BulkConcurrency:   cfg.BulkConcurrency,
	}
	codes := service.NewCodeValidator(sqlCatalog, records)
	recorder := service.NewRecorder(records, resolver, tr, svcCfg, logger)
	router := service.NewRouter(service.RouterDeps{
		Resolver:    resolver,
		Codes:       codes,
		Eligibility: service.NewEligibilityChecker(sqlCatalog, records, tr, svcCfg, logger),
		Recorder:    recorder,
		Devices:     service.NewCameraRegistry(devices),
		Recognizer:  rec,
		Events:      events,
		Broadcaster: outcomes,
		Metrics:     m,
		Logger:      logger,
		Config:      svcCfg,
	})
	bulk := service.NewBulk(resolver, sqlCatalog, records, recorder, tr, svcCfg, logger)

	janitor := service.NewJanitor(tr, events, service.JanitorConfig{
		SweepInterval:      cfg.SweepInterval,
		EventRetentionDays: cfg.EventRetentionDays,
		PruneIntervalHours: cfg.PruneIntervalHours,
	}, logger)
	janitor.Start(ctx)
	defer janitor.Stop()

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:   logger,
		Addr:     cfg.HTTPAddr,
		Router:   router,
		Codes:    codes,
		Records:  recorder,
		Bulk:     bulk,
		Tracker:  tr,
		Live:     hub,
		Gatherer: reg,
		Ready:    readiness(conn, pool, rdb),
	})

	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	// gRPC
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	gsrv := grpcapi.NewGRPCServer(grpcapi.NewServer(router, logger))
	go func() {
		logger.Info("grpc listening", "addr", cfg.GRPCAddr)
		if err := gsrv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	gsrv.GracefulStop()
	return nil
}

// openRecords picks the attendance ledger: postgres when a DSN is set,
// otherwise the local sqlite database.
func openRecords(ctx context.Context, cfg config.Config, conn *sql.DB, writer *db.Worker) (store.RecordStore, *pgxpool.Pool, error) {
	if cfg.PostgresDSN == "" {
		return sqlitestore.NewRecordStore(conn, writer), nil, nil
	}
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	rs := postgres.NewRecordStore(pool)
	if err := rs.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return rs, pool, nil
}

func openTracker(ctx context.Context, cfg config.Config) (tracker.Tracker, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return tracker.NewMemory(cfg.TrackerGrace), nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return tracker.NewRedis(client, cfg.TrackerGrace), client, nil
}

func newRecognizer(cfg config.Config, logger *slog.Logger) (service.Recognizer, error) {
	if cfg.RecognizerURL != "" {
		return recognizer.NewHTTP(cfg.RecognizerURL, cfg.RecognizerTimeout)
	}
	// Matches the dev seed roster.
	logger.Warn("no recognizer configured, using static dev table")
	return recognizer.NewStatic(map[string]domain.PersonID{
		"emb-student-001": "student-001",
		"emb-student-002": "student-002",
		"emb-student-003": "student-003",
	}), nil
}

func readiness(conn *sql.DB, pool *pgxpool.Pool, rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := conn.PingContext(ctx); err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}
