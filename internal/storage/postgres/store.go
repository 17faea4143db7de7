// Package postgres implements storage.Store on jackc/pgx.
//
// Differences from the sqlite backend:
//   - ON CONFLICT ... DO NOTHING instead of INSERT OR IGNORE.
//   - Native TIMESTAMPTZ columns; pgx binds time.Time directly.
//   - BIGSERIAL surrogate keys.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"personetl/internal/storage"
)

type Store struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL() {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

func schemaDDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ciudades (
  ciudad_id BIGSERIAL PRIMARY KEY,
  nombre TEXT NOT NULL UNIQUE
);`,
		`CREATE TABLE IF NOT EXISTS personas_limpias (
  persona_id BIGSERIAL PRIMARY KEY,
  nombre TEXT NOT NULL,
  edad INTEGER NOT NULL,
  ciudad_id BIGINT NOT NULL REFERENCES ciudades(ciudad_id),
  processed_at TIMESTAMPTZ NOT NULL,
  run_id TEXT NOT NULL,
  UNIQUE (nombre, edad, ciudad_id)
);`,
		`CREATE TABLE IF NOT EXISTS etl_runs (
  run_id TEXT PRIMARY KEY,
  started_at TIMESTAMPTZ NOT NULL,
  source_file TEXT NOT NULL,
  valid_count BIGINT NOT NULL,
  rejected_count BIGINT NOT NULL,
  inserted_new BIGINT NOT NULL,
  ignored_duplicates BIGINT NOT NULL
);`,
	}
}

type pgTx struct {
	tx   pgx.Tx
	done bool
}

func (t *pgTx) SelectCityID(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT ciudad_id FROM ciudades WHERE nombre = $1`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (t *pgTx) InsertCityIfAbsent(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ciudades (nombre) VALUES ($1) ON CONFLICT (nombre) DO NOTHING`, name)
	return err
}

func (t *pgTx) PersonExists(ctx context.Context, name string, age int, cityID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (
   SELECT 1 FROM personas_limpias WHERE nombre = $1 AND edad = $2 AND ciudad_id = $3
 )`, name, age, cityID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (t *pgTx) InsertPerson(ctx context.Context, row storage.PersonRow) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO personas_limpias (nombre, edad, ciudad_id, processed_at, run_id)
   VALUES ($1, $2, $3, $4, $5)`,
		row.Name, row.Age, row.CityID, row.ProcessedAt.UTC(), row.RunID)
	return err
}

func (t *pgTx) InsertRun(ctx context.Context, row storage.RunRow) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO etl_runs
   (run_id, started_at, source_file, valid_count, rejected_count, inserted_new, ignored_duplicates)
   VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		row.RunID, row.StartedAt.UTC(), row.SourceFile,
		row.ValidCount, row.RejectedCount, row.InsertedNew, row.IgnoredDuplicates)
	return err
}

func (t *pgTx) Commit() error {
	t.done = true
	return t.tx.Commit(context.Background())
}

func (t *pgTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback(context.Background())
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
