// Package memory implements storage.Store in process memory.
//
// It exists so tests can exercise the batch engine without a database while
// keeping the same semantics the SQL backends enforce: unique city names,
// unique person natural keys, unique run ids, and per-file transactions for
// persons and runs.
//
// City creation commits immediately (idempotently, under the store lock)
// rather than staging per transaction. That mirrors what matters for the
// audit guarantee (person and run rows are all-or-nothing per source file)
// while keeping get-or-create race-safe for concurrent callers.
package memory

import (
	"context"
	"fmt"
	"sync"

	"personetl/internal/storage"
)

type personKey struct {
	name   string
	age    int
	cityID int64
}

type Store struct {
	mu sync.Mutex

	cities     map[string]int64
	nextCityID int64

	persons map[personKey]storage.PersonRow
	runs    []storage.RunRow
	runIDs  map[string]struct{}
}

func init() {
	storage.Register("memory", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return NewStore(), nil
	})
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		cities:  make(map[string]int64),
		persons: make(map[personKey]storage.PersonRow),
		runIDs:  make(map[string]struct{}),
	}
}

func (s *Store) Close() {}

func (s *Store) EnsureSchema(ctx context.Context) error { return nil }

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	return &memTx{
		store:   s,
		persons: make(map[personKey]storage.PersonRow),
	}, nil
}

// Cities returns a copy of the committed city table (name -> id).
func (s *Store) Cities() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.cities))
	for k, v := range s.cities {
		out[k] = v
	}
	return out
}

// Persons returns the committed person rows in unspecified order.
func (s *Store) Persons() []storage.PersonRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.PersonRow, 0, len(s.persons))
	for _, p := range s.persons {
		out = append(out, p)
	}
	return out
}

// Runs returns the committed audit rows in commit order.
func (s *Store) Runs() []storage.RunRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.RunRow(nil), s.runs...)
}

type memTx struct {
	store *Store
	done  bool

	persons map[personKey]storage.PersonRow
	runs    []storage.RunRow
}

func (t *memTx) SelectCityID(ctx context.Context, name string) (int64, bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	id, ok := t.store.cities[name]
	return id, ok, nil
}

func (t *memTx) InsertCityIfAbsent(ctx context.Context, name string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, ok := t.store.cities[name]; ok {
		return nil
	}
	t.store.nextCityID++
	t.store.cities[name] = t.store.nextCityID
	return nil
}

func (t *memTx) PersonExists(ctx context.Context, name string, age int, cityID int64) (bool, error) {
	k := personKey{name: name, age: age, cityID: cityID}
	if _, ok := t.persons[k]; ok {
		return true, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	_, ok := t.store.persons[k]
	return ok, nil
}

func (t *memTx) InsertPerson(ctx context.Context, row storage.PersonRow) error {
	k := personKey{name: row.Name, age: row.Age, cityID: row.CityID}
	if _, ok := t.persons[k]; ok {
		return fmt.Errorf("memory: UNIQUE constraint failed: personas_limpias(%s, %d, %d)", row.Name, row.Age, row.CityID)
	}
	t.store.mu.Lock()
	_, committed := t.store.persons[k]
	t.store.mu.Unlock()
	if committed {
		return fmt.Errorf("memory: UNIQUE constraint failed: personas_limpias(%s, %d, %d)", row.Name, row.Age, row.CityID)
	}
	t.persons[k] = row
	return nil
}

func (t *memTx) InsertRun(ctx context.Context, row storage.RunRow) error {
	t.store.mu.Lock()
	_, dup := t.store.runIDs[row.RunID]
	t.store.mu.Unlock()
	if dup {
		return fmt.Errorf("memory: duplicate run_id %q", row.RunID)
	}
	t.runs = append(t.runs, row)
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return fmt.Errorf("memory: commit on finished tx")
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for k, p := range t.persons {
		t.store.persons[k] = p
	}
	for _, r := range t.runs {
		t.store.runIDs[r.RunID] = struct{}{}
		t.store.runs = append(t.store.runs, r)
	}
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.persons = nil
	t.runs = nil
	return nil
}
