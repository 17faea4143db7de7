// Package sqlite implements storage.Store on modernc.org/sqlite.
//
// This is the default local backend. SQLite notes:
//   - Timestamps are stored as RFC3339Nano TEXT. modernc.org/sqlite keeps
//     TEXT affinity regardless of a declared timestamp type, so writing the
//     strings ourselves gives reliable round trips.
//   - INSERT OR IGNORE relies on the UNIQUE constraints created by
//     EnsureSchema; it is what makes city creation race-safe.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"personetl/internal/storage"
)

type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// Single connection: the pipeline is single-writer, and it keeps
	// ":memory:" databases on one connection instead of one per pool slot.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL() {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

func schemaDDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ciudades (
  ciudad_id INTEGER PRIMARY KEY AUTOINCREMENT,
  nombre TEXT NOT NULL UNIQUE
);`,
		`CREATE TABLE IF NOT EXISTS personas_limpias (
  persona_id INTEGER PRIMARY KEY AUTOINCREMENT,
  nombre TEXT NOT NULL,
  edad INTEGER NOT NULL,
  ciudad_id INTEGER NOT NULL REFERENCES ciudades(ciudad_id),
  processed_at TEXT NOT NULL,
  run_id TEXT NOT NULL,
  UNIQUE (nombre, edad, ciudad_id)
);`,
		`CREATE TABLE IF NOT EXISTS etl_runs (
  run_id TEXT PRIMARY KEY,
  started_at TEXT NOT NULL,
  source_file TEXT NOT NULL,
  valid_count INTEGER NOT NULL,
  rejected_count INTEGER NOT NULL,
  inserted_new INTEGER NOT NULL,
  ignored_duplicates INTEGER NOT NULL
);`,
	}
}

type sqliteTx struct {
	tx   *sql.Tx
	done bool
}

func (t *sqliteTx) SelectCityID(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT ciudad_id FROM ciudades WHERE nombre = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (t *sqliteTx) InsertCityIfAbsent(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO ciudades (nombre) VALUES (?)`, name)
	return err
}

func (t *sqliteTx) PersonExists(ctx context.Context, name string, age int, cityID int64) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx,
		`SELECT 1 FROM personas_limpias WHERE nombre = ? AND edad = ? AND ciudad_id = ? LIMIT 1`,
		name, age, cityID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *sqliteTx) InsertPerson(ctx context.Context, row storage.PersonRow) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO personas_limpias (nombre, edad, ciudad_id, processed_at, run_id)
   VALUES (?, ?, ?, ?, ?)`,
		row.Name, row.Age, row.CityID, formatTime(row.ProcessedAt), row.RunID)
	return err
}

func (t *sqliteTx) InsertRun(ctx context.Context, row storage.RunRow) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO etl_runs
   (run_id, started_at, source_file, valid_count, rejected_count, inserted_new, ignored_duplicates)
   VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.RunID, formatTime(row.StartedAt), row.SourceFile,
		row.ValidCount, row.RejectedCount, row.InsertedNew, row.IgnoredDuplicates)
	return err
}

func (t *sqliteTx) Commit() error {
	t.done = true
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

// formatTime formats a time as RFC3339Nano in UTC for TEXT storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses timestamps read back from SQLite.
//
// Supported formats:
//   - RFC3339Nano (what we write)
//   - RFC3339
//   - "2006-01-02 15:04:05" variants written by other tools (UTC assumed
//     when no zone is present)
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if layout == "2006-01-02 15:04:05" {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.UTC(), nil
			}
			continue
		}
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
