package durable

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

const counterName = "app_counter"

// SQLStore keeps the counter in a SQLite table. The increment is a single
// upsert statement, so it is atomic without any lock in this process.
type SQLStore struct {
	path   string
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLStore opens (or creates) the SQLite database at path and ensures the schema.
func OpenSQLStore(path string, logger *slog.Logger) (*SQLStore, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS counters (
		name  TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create counters table: %w", err)
	}

	return &SQLStore{path: path, db: db, logger: logger}, nil
}

func (s *SQLStore) Increment(ctx context.Context) Result {
	query, args, err := sq.
		Insert("counters").
		Columns("name", "value").
		Values(counterName, 1).
		Suffix(`ON CONFLICT(name) DO UPDATE SET value = CASE
			WHEN typeof(counters.value) = 'integer' AND counters.value >= 0 THEN counters.value + 1
			ELSE 1 END
			RETURNING value`).
		ToSql()
	if err == nil {
		var next int64
		if err = s.db.QueryRowContext(ctx, query, args...).Scan(&next); err == nil {
			return Result{Value: next}
		}
	}

	next := s.read(ctx) + 1
	s.logger.Error("failed to persist counter", "path", s.path, "value", next, "error", err)
	return Result{Value: next, Warning: &PersistenceWarning{Path: s.path, Err: err}}
}

// Check runs a no-op update inside a transaction that is always rolled
// back, so a database that refuses writes fails the check.
func (s *SQLStore) Check(ctx context.Context) error {
	query, args, err := sq.
		Update("counters").
		Set("value", sq.Expr("value")).
		Where(sq.Eq{"name": counterName}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sqlite write check: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite write check: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite database not writable: %w", err)
	}
	return nil
}

func (s *SQLStore) Location() string { return s.path }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) read(ctx context.Context) int64 {
	query, args, err := sq.
		Select("value").
		From("counters").
		Where(sq.Eq{"name": counterName}).
		ToSql()
	if err != nil {
		return 0
	}

	var v int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&v); err != nil || v < 0 {
		return 0
	}
	return v
}
