// Package storage defines the relational store interface for the personas
// pipeline and a registry of backend implementations.
//
// The schema is fixed and bit-compatible across runs of one deployment:
//
//	ciudades(ciudad_id PK, nombre UNIQUE)
//	personas_limpias(persona_id PK, nombre, edad, ciudad_id FK,
//	                 processed_at, run_id, UNIQUE(nombre, edad, ciudad_id))
//	etl_runs(run_id PK, started_at, source_file, valid_count,
//	         rejected_count, inserted_new, ignored_duplicates)
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config selects and configures a backend.
type Config struct {
	// Kind must match a registered backend kind (e.g. "sqlite").
	Kind string
	// DSN is passed through to the backend; validation is backend-specific.
	DSN string
}

// PersonRow is one fact row destined for personas_limpias.
type PersonRow struct {
	Name        string
	Age         int
	CityID      int64
	ProcessedAt time.Time
	RunID       string
}

// RunRow is one immutable audit row for etl_runs.
type RunRow struct {
	RunID             string
	StartedAt         time.Time
	SourceFile        string
	ValidCount        int64
	RejectedCount     int64
	InsertedNew       int64
	IgnoredDuplicates int64
}

// Store is a handle to the relational store.
//
// All mutations for one source file must go through a single Tx so the
// per-file audit guarantee holds: either every accepted row and the run row
// commit together, or none of them do.
type Store interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// EnsureSchema creates the three tables if absent, including the
	// uniqueness constraints the load path relies on.
	EnsureSchema(ctx context.Context) error

	// Begin opens the transaction wrapping one source file's processing.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one source file's transactional boundary.
//
// Rollback after Commit must be a no-op, so callers can `defer Rollback`.
type Tx interface {
	// SelectCityID looks up a city by exact normalized name.
	SelectCityID(ctx context.Context, name string) (int64, bool, error)

	// InsertCityIfAbsent creates the city row unless the name already
	// exists. Backends implement this with a conflict-tolerant insert
	// against the UNIQUE(nombre) constraint, so concurrent callers can
	// never produce two rows for one name.
	InsertCityIfAbsent(ctx context.Context, name string) error

	// PersonExists checks the natural key (nombre, edad, ciudad_id).
	PersonExists(ctx context.Context, name string, age int, cityID int64) (bool, error)

	// InsertPerson inserts a new fact row. A uniqueness violation here
	// means the prior PersonExists lookup was raced or wrong; backends
	// surface it as an error rather than swallowing it.
	InsertPerson(ctx context.Context, row PersonRow) error

	// InsertRun appends the finalized audit row.
	InsertRun(ctx context.Context, row RunRow) error

	Commit() error
	Rollback() error
}

// ---- backend factories ----

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind. Call from an init() function
// in the backend package. Registering the same kind twice panics, to fail
// fast on ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Store using the registered backend factory.
//
// Errors:
//   - cfg.Kind empty or unregistered.
//   - Whatever the factory returns (typically connect/ping failures).
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
