// Package sqlite is the embedded storage backend. It implements the same
// stores as the postgres package on a single SQLite file, or in memory.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DB wraps a SQLite database connection.
type DB struct {
	sql    *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies migrations. An
// empty path or MemoryPath opens an in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	memory := path == "" || path == MemoryPath
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if memory {
		dsn = MemoryPath + "?_pragma=foreign_keys(1)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// Every connection to :memory: is a separate database; one writer is
	// also all SQLite allows for files.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	d := &DB{sql: sqlDB, logger: logger.With(slog.String("component", "sqlite"))}
	if err := d.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	d.logger.Info("database opened", slog.String("path", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.sql.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// SQL returns the underlying *sql.DB.
func (d *DB) SQL() *sql.DB {
	return d.sql
}

var migrations = []string{
	1: `
		CREATE TABLE IF NOT EXISTS stash (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			api_id              TEXT    NOT NULL UNIQUE,
			account_name        TEXT    NOT NULL DEFAULT '',
			last_character_name TEXT    NOT NULL DEFAULT '',
			stash               TEXT    NOT NULL DEFAULT '',
			stash_type          TEXT    NOT NULL DEFAULT '',
			public              INTEGER NOT NULL DEFAULT 0,
			created_at          INTEGER NOT NULL,
			updated_at          INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS item (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			api_id      TEXT    NOT NULL UNIQUE,
			stash_id    INTEGER NOT NULL REFERENCES stash(id),
			name        TEXT    NOT NULL DEFAULT '',
			type_line   TEXT    NOT NULL DEFAULT '',
			note        TEXT    NOT NULL DEFAULT '',
			league      TEXT    NOT NULL DEFAULT '',
			category    TEXT    NOT NULL DEFAULT '',
			frame_type  INTEGER NOT NULL DEFAULT 0,
			ilvl        INTEGER NOT NULL DEFAULT 0,
			icon        TEXT    NOT NULL DEFAULT '',
			h           INTEGER NOT NULL DEFAULT 0,
			w           INTEGER NOT NULL DEFAULT 0,
			x           INTEGER NOT NULL DEFAULT 0,
			y           INTEGER NOT NULL DEFAULT 0,
			identified  INTEGER NOT NULL DEFAULT 0,
			verified    INTEGER NOT NULL DEFAULT 0,
			corrupted   INTEGER NOT NULL DEFAULT 0,
			stack_size  INTEGER,
			sockets     TEXT,
			mods        TEXT,
			properties  TEXT,
			active      INTEGER NOT NULL DEFAULT 1,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_item_updated ON item(updated_at, created_at, id);
		CREATE INDEX IF NOT EXISTS idx_item_stash ON item(stash_id);

		CREATE TABLE IF NOT EXISTS sale (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			item_id           INTEGER NOT NULL UNIQUE REFERENCES item(id),
			item_api_id       TEXT    NOT NULL,
			name              TEXT    NOT NULL,
			is_currency       INTEGER NOT NULL DEFAULT 0,
			sale_currency     TEXT    NOT NULL,
			sale_amount       REAL    NOT NULL,
			sale_amount_chaos REAL,
			item_updated_at   INTEGER NOT NULL,
			created_at        INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sale_pair ON sale(name, sale_currency, item_updated_at);
		CREATE INDEX IF NOT EXISTS idx_sale_item_updated ON sale(item_updated_at);
		CREATE INDEX IF NOT EXISTS idx_sale_item_api ON sale(item_api_id);

		CREATE TABLE IF NOT EXISTS currency_summary (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			from_currency TEXT    NOT NULL,
			to_currency   TEXT    NOT NULL,
			league        TEXT    NOT NULL,
			count         INTEGER NOT NULL,
			weight        REAL    NOT NULL,
			mean          REAL    NOT NULL,
			standard_dev  REAL    NOT NULL,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL,
			UNIQUE (from_currency, to_currency, league)
		);

		CREATE TABLE IF NOT EXISTS ingest_cursor (
			id        INTEGER PRIMARY KEY CHECK (id = 1),
			change_id TEXT NOT NULL
		)`,
}

// migrate applies every migration newer than the recorded schema version.
// Statements are run one at a time and "already exists" failures are
// ignored, so a partially applied version can be re-run.
func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.sql.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	version := 0
	if err := d.sql.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for v := version + 1; v < len(migrations); v++ {
		for _, stmt := range strings.Split(migrations[v], ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := d.sql.ExecContext(ctx, stmt); err != nil && !errors.Is(classifyDDL(err), domain.ErrAlreadyExists) {
				return fmt.Errorf("migration v%d: %w", v, err)
			}
		}
		if _, err := d.sql.ExecContext(ctx,
			`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)`,
			v, time.Now().Unix()); err != nil {
			return fmt.Errorf("record migration v%d: %w", v, err)
		}
		d.logger.Info("applied migration", slog.Int("version", v))
	}
	return nil
}

// classifyDDL maps SQLite "already exists" failures to
// domain.ErrAlreadyExists.
func classifyDDL(err error) error {
	if err != nil && strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
	}
	return err
}
