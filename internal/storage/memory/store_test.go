package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"personetl/internal/storage"
)

func TestTransactionIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.InsertCityIfAbsent(ctx, "Madrid"); err != nil {
		t.Fatalf("InsertCityIfAbsent: %v", err)
	}
	cityID, _, err := tx.SelectCityID(ctx, "Madrid")
	if err != nil {
		t.Fatalf("SelectCityID: %v", err)
	}
	row := storage.PersonRow{Name: "Ana", Age: 30, CityID: cityID, ProcessedAt: time.Now(), RunID: "r1"}
	if err := tx.InsertPerson(ctx, row); err != nil {
		t.Fatalf("InsertPerson: %v", err)
	}
	if err := tx.InsertRun(ctx, storage.RunRow{RunID: "r1", SourceFile: "a.csv"}); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	// Nothing committed yet.
	if n := len(s.Persons()); n != 0 {
		t.Fatalf("persons before commit = %d, want 0", n)
	}
	if n := len(s.Runs()); n != 0 {
		t.Fatalf("runs before commit = %d, want 0", n)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n := len(s.Persons()); n != 1 {
		t.Fatalf("persons after commit = %d, want 1", n)
	}
	if n := len(s.Runs()); n != 1 {
		t.Fatalf("runs after commit = %d, want 1", n)
	}
}

func TestRollbackDiscardsPersonsAndRuns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()

	tx, _ := s.Begin(ctx)
	_ = tx.InsertCityIfAbsent(ctx, "Bogota")
	cityID, _, _ := tx.SelectCityID(ctx, "Bogota")
	_ = tx.InsertPerson(ctx, storage.PersonRow{Name: "Luis", Age: 40, CityID: cityID, RunID: "r1"})
	_ = tx.InsertRun(ctx, storage.RunRow{RunID: "r1"})
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if n := len(s.Persons()); n != 0 {
		t.Errorf("persons after rollback = %d, want 0", n)
	}
	if n := len(s.Runs()); n != 0 {
		t.Errorf("runs after rollback = %d, want 0", n)
	}
}

func TestDuplicateNaturalKeyRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()

	tx, _ := s.Begin(ctx)
	_ = tx.InsertCityIfAbsent(ctx, "Madrid")
	cityID, _, _ := tx.SelectCityID(ctx, "Madrid")
	row := storage.PersonRow{Name: "Ana", Age: 30, CityID: cityID, RunID: "r1"}
	if err := tx.InsertPerson(ctx, row); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := tx.InsertPerson(ctx, row); err == nil {
		t.Fatal("expected uniqueness violation within tx")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2, _ := s.Begin(ctx)
	defer tx2.Rollback()
	if err := tx2.InsertPerson(ctx, row); err == nil {
		t.Fatal("expected uniqueness violation against committed rows")
	}
}

func TestConcurrentCityGetOrCreate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	ids := make([]int64, workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			tx, err := s.Begin(ctx)
			if err != nil {
				t.Errorf("Begin: %v", err)
				return
			}
			defer tx.Rollback()
			if err := tx.InsertCityIfAbsent(ctx, "Madrid"); err != nil {
				t.Errorf("InsertCityIfAbsent: %v", err)
				return
			}
			id, ok, err := tx.SelectCityID(ctx, "Madrid")
			if err != nil || !ok {
				t.Errorf("SelectCityID: ok=%v err=%v", ok, err)
				return
			}
			ids[n] = id
			_ = tx.Commit()
		}(i)
	}
	wg.Wait()

	if n := len(s.Cities()); n != 1 {
		t.Fatalf("city rows = %d, want 1", n)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("resolvers disagree on city id: %v", ids)
		}
	}
}

func TestRegisteredWithFactory(t *testing.T) {
	t.Parallel()

	st, err := storage.New(context.Background(), storage.Config{Kind: "memory"})
	if err != nil {
		t.Fatalf("storage.New(memory): %v", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
}
