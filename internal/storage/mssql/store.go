// Package mssql implements storage.Store on SQL Server via
// microsoft/go-mssqldb.
//
// SQL Server has no INSERT OR IGNORE / ON CONFLICT, so city creation uses a
// guarded insert (INSERT ... WHERE NOT EXISTS). Inside a transaction this is
// race-safe enough for the single-writer pipeline, and the UNIQUE constraint
// still backs the invariant if two writers ever race: the loser gets a
// constraint error instead of a duplicate row.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"personetl/internal/storage"
)

type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
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
	return &mssqlTx{tx: tx}, nil
}

func schemaDDL() []string {
	return []string{
		`IF OBJECT_ID(N'ciudades', N'U') IS NULL
CREATE TABLE ciudades (
  ciudad_id BIGINT IDENTITY(1,1) PRIMARY KEY,
  nombre NVARCHAR(255) NOT NULL UNIQUE
);`,
		`IF OBJECT_ID(N'personas_limpias', N'U') IS NULL
CREATE TABLE personas_limpias (
  persona_id BIGINT IDENTITY(1,1) PRIMARY KEY,
  nombre NVARCHAR(255) NOT NULL,
  edad INT NOT NULL,
  ciudad_id BIGINT NOT NULL REFERENCES ciudades(ciudad_id),
  processed_at DATETIMEOFFSET NOT NULL,
  run_id NVARCHAR(255) NOT NULL,
  CONSTRAINT uq_personas_natural UNIQUE (nombre, edad, ciudad_id)
);`,
		`IF OBJECT_ID(N'etl_runs', N'U') IS NULL
CREATE TABLE etl_runs (
  run_id NVARCHAR(255) PRIMARY KEY,
  started_at DATETIMEOFFSET NOT NULL,
  source_file NVARCHAR(512) NOT NULL,
  valid_count BIGINT NOT NULL,
  rejected_count BIGINT NOT NULL,
  inserted_new BIGINT NOT NULL,
  ignored_duplicates BIGINT NOT NULL
);`,
	}
}

type mssqlTx struct {
	tx   *sql.Tx
	done bool
}

func (t *mssqlTx) SelectCityID(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT ciudad_id FROM ciudades WHERE nombre = @p1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (t *mssqlTx) InsertCityIfAbsent(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ciudades (nombre)
   SELECT @p1 WHERE NOT EXISTS (SELECT 1 FROM ciudades WHERE nombre = @p1)`, name)
	return err
}

func (t *mssqlTx) PersonExists(ctx context.Context, name string, age int, cityID int64) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx,
		`SELECT TOP 1 1 FROM personas_limpias
   WHERE nombre = @p1 AND edad = @p2 AND ciudad_id = @p3`,
		name, age, cityID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *mssqlTx) InsertPerson(ctx context.Context, row storage.PersonRow) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO personas_limpias (nombre, edad, ciudad_id, processed_at, run_id)
   VALUES (@p1, @p2, @p3, @p4, @p5)`,
		row.Name, row.Age, row.CityID, row.ProcessedAt.UTC(), row.RunID)
	return err
}

func (t *mssqlTx) InsertRun(ctx context.Context, row storage.RunRow) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO etl_runs
   (run_id, started_at, source_file, valid_count, rejected_count, inserted_new, ignored_duplicates)
   VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7)`,
		row.RunID, row.StartedAt.UTC(), row.SourceFile,
		row.ValidCount, row.RejectedCount, row.InsertedNew, row.IgnoredDuplicates)
	return err
}

func (t *mssqlTx) Commit() error {
	t.done = true
	return t.tx.Commit()
}

func (t *mssqlTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
