package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// MemoryPath opens a private in-memory database, used by tests and demos.
const MemoryPath = ":memory:"

type Config struct {
	Path string // e.g. "./data/attendly.db", or MemoryPath
	Env  string // "dev" | "prod"

	// BusyTimeout bounds how long a reader waits on the write lock.
	BusyTimeout time.Duration
	Logger      *slog.Logger
}

var memSeq atomic.Int64

// Open connects to the local database, applies migrations and logs the
// resulting schema version. The pool holds one connection; writes go
// through a Worker.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = "./data/attendly.db"
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	version, err := Migrate(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database ready", "path", cfg.Path, "env", cfg.Env, "schema_version", version)
	return db, nil
}

// dsn builds a modernc.org/sqlite DSN. Prod syncs every commit.
func dsn(cfg Config) string {
	syncMode := "NORMAL"
	if cfg.Env == "prod" {
		syncMode = "FULL"
	}
	pragmas := []string{
		"foreign_keys(1)",
		fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()),
		"synchronous(" + syncMode + ")",
	}

	var b strings.Builder
	if cfg.Path == MemoryPath {
		fmt.Fprintf(&b, "file:attendly-mem-%d?mode=memory&cache=shared", memSeq.Add(1))
	} else {
		pragmas = append(pragmas, "journal_mode(WAL)")
		fmt.Fprintf(&b, "file:%s?", cfg.Path)
	}
	for i, p := range pragmas {
		if i > 0 || cfg.Path == MemoryPath {
			b.WriteByte('&')
		}
		b.WriteString("_pragma=" + p)
	}
	return b.String()
}
