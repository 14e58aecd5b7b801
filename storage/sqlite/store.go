// Package sqlite provides the embedded SQLite ledger used on devices.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/logging"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/storage/sqlstore"
)

// DriverName is the database/sql driver registered by go-sqlite3.
const DriverName = "sqlite3"

// Config holds configuration options for the SQLite ledger.
//
// DefaultConfig enables WAL mode, a busy timeout and immediate
// transactions so read-modify-write updates take the write lock up front.
type Config struct {
	// Path is the database file. ":memory:" is accepted but only useful with
	// MaxOpenConns of 1, since every connection gets its own database.
	Path string

	// EnableWAL appends _journal_mode=WAL to the DSN.
	EnableWAL bool

	// BusyTimeout is how long a writer waits for a lock before failing.
	BusyTimeout time.Duration

	Logger *logging.Logger

	MaxOpenConns    int           // Default: 1
	MaxIdleConns    int           // Default: 1
	ConnMaxLifetime time.Duration // Default: 1h
}

func (c *Config) setDefaults() {
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 1
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 1
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
}

// DefaultConfig returns a Config with WAL enabled for path.
func DefaultConfig(path string) *Config {
	cfg := &Config{Path: path, EnableWAL: true}
	cfg.setDefaults()
	return cfg
}

// DSN renders the go-sqlite3 connection string for the config.
func (c *Config) DSN() string {
	params := []string{
		fmt.Sprintf("_busy_timeout=%d", c.BusyTimeout.Milliseconds()),
		"_txlock=immediate",
		"_foreign_keys=on",
	}
	if c.EnableWAL {
		params = append([]string{"_journal_mode=WAL"}, params...)
	}
	sep := "?"
	if strings.Contains(c.Path, "?") {
		sep = "&"
	}
	return "file:" + c.Path + sep + strings.Join(params, "&")
}

// Open creates or opens the ledger at path with DefaultConfig.
func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	return New(ctx, DefaultConfig(path))
}

// New opens the database described by cfg and prepares the schema.
func New(ctx context.Context, cfg *Config) (*sqlstore.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	cfg.setDefaults()
	if cfg.Path == "" {
		return nil, fmt.Errorf("Path is required")
	}

	logger := logging.OrDiscard(cfg.Logger).WithComponent(logging.Component("storage/sqlite"))
	logger.DebugContext(ctx, "opening sqlite ledger",
		slog.String("path", cfg.Path),
		slog.Bool("wal_enabled", cfg.EnableWAL),
	)

	db, err := sql.Open(DriverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store, err := sqlstore.New(ctx, db, Dialect(), cfg.Logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Dialect returns the sqlstore dialect for SQLite.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:        "storage/sqlite",
		Schema:      schema,
		IsDuplicate: isDuplicate,
	}
}

func isDuplicate(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conflicts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		record_id TEXT NOT NULL DEFAULT '',
		local_version TEXT,
		remote_version TEXT,
		created_at INTEGER NOT NULL,
		status TEXT NOT NULL,
		resolution TEXT NOT NULL DEFAULT '',
		merged_version TEXT,
		changed_fields TEXT NOT NULL DEFAULT '[]',
		last_error TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL DEFAULT 0,
		needs_review INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conflicts_created_at ON conflicts (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts (status)`,
	`CREATE TABLE IF NOT EXISTS merge_strategies (
		type TEXT PRIMARY KEY,
		strategy TEXT NOT NULL,
		resolver TEXT NOT NULL DEFAULT '',
		last_updated INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_log (
		id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		type TEXT NOT NULL,
		record_id TEXT NOT NULL,
		conflict_id TEXT NOT NULL DEFAULT '',
		payload TEXT,
		logged_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_attempt_at INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_log_logged_at ON sync_log (logged_at)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_log_status ON sync_log (status)`,
}
