package sqlite

import (
	"context"
	"strings"
	"testing"
	"time"

	"personetl/internal/storage"
)

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

func TestSchemaDDL_Constraints(t *testing.T) {
	t.Parallel()

	ddl := strings.Join(schemaDDL(), "\n")
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS ciudades",
		"nombre TEXT NOT NULL UNIQUE",
		"CREATE TABLE IF NOT EXISTS personas_limpias",
		"UNIQUE (nombre, edad, ciudad_id)",
		"REFERENCES ciudades(ciudad_id)",
		"CREATE TABLE IF NOT EXISTS etl_runs",
		"run_id TEXT PRIMARY KEY",
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("schema DDL missing %q", want)
		}
	}
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
}

func TestCityGetOrCreateSemantics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()

	if _, ok, err := tx.SelectCityID(ctx, "Madrid"); err != nil || ok {
		t.Fatalf("SelectCityID before insert: ok=%v err=%v", ok, err)
	}
	if err := tx.InsertCityIfAbsent(ctx, "Madrid"); err != nil {
		t.Fatalf("InsertCityIfAbsent: %v", err)
	}
	id, ok, err := tx.SelectCityID(ctx, "Madrid")
	if err != nil || !ok {
		t.Fatalf("SelectCityID after insert: ok=%v err=%v", ok, err)
	}

	// Repeated insert must not create a second row or change the id.
	if err := tx.InsertCityIfAbsent(ctx, "Madrid"); err != nil {
		t.Fatalf("repeated InsertCityIfAbsent: %v", err)
	}
	again, ok, err := tx.SelectCityID(ctx, "Madrid")
	if err != nil || !ok || again != id {
		t.Fatalf("city id changed: %d vs %d (ok=%v err=%v)", again, id, ok, err)
	}
}

func TestPersonNaturalKeyUniqueness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()

	if err := tx.InsertCityIfAbsent(ctx, "Madrid"); err != nil {
		t.Fatalf("InsertCityIfAbsent: %v", err)
	}
	cityID, _, err := tx.SelectCityID(ctx, "Madrid")
	if err != nil {
		t.Fatalf("SelectCityID: %v", err)
	}

	row := storage.PersonRow{
		Name: "Ana", Age: 30, CityID: cityID,
		ProcessedAt: time.Now(), RunID: "run-1",
	}
	if err := tx.InsertPerson(ctx, row); err != nil {
		t.Fatalf("InsertPerson: %v", err)
	}

	exists, err := tx.PersonExists(ctx, "Ana", 30, cityID)
	if err != nil || !exists {
		t.Fatalf("PersonExists: exists=%v err=%v", exists, err)
	}

	// Same natural key again: the constraint must refuse it.
	if err := tx.InsertPerson(ctx, row); err == nil {
		t.Fatal("expected uniqueness violation on duplicate natural key")
	}
}

func TestRunRowRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	row := storage.RunRow{
		RunID:             "20250101T000000000000Z_test_csv_abc",
		StartedAt:         time.Now(),
		SourceFile:        "test.csv",
		ValidCount:        2,
		RejectedCount:     1,
		InsertedNew:       2,
		IgnoredDuplicates: 0,
	}
	if err := tx.InsertRun(ctx, row); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
	// Run ids are primary keys; a second insert with the same id must fail.
	if err := tx.InsertRun(ctx, row); err == nil {
		t.Fatal("expected primary key violation on duplicate run_id")
	}
	_ = tx.Rollback()
}

func TestRollbackDiscardsFileWork(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.InsertCityIfAbsent(ctx, "Bogota"); err != nil {
		t.Fatalf("InsertCityIfAbsent: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	tx2, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx2.Rollback()
	if _, ok, err := tx2.SelectCityID(ctx, "Bogota"); err != nil || ok {
		t.Fatalf("rolled back city still visible: ok=%v err=%v", ok, err)
	}
}

func TestTimeFormatParseRoundTrip(t *testing.T) {
	t.Parallel()

	in := time.Date(2025, 8, 31, 12, 34, 56, 789000000, time.UTC)
	out, err := parseTime(formatTime(in))
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if !out.Equal(in) {
		t.Errorf("round trip = %v, want %v", out, in)
	}
}

func TestParseTime_ForeignLayouts(t *testing.T) {
	t.Parallel()

	cases := []string{
		"2025-08-31T12:34:56Z",
		"2025-08-31 12:34:56",
		"2025-08-31 12:34:56.123456789+00:00",
	}
	for _, s := range cases {
		if _, err := parseTime(s); err != nil {
			t.Errorf("parseTime(%q): %v", s, err)
		}
	}
	if _, err := parseTime(""); err == nil {
		t.Error("parseTime(\"\") should fail")
	}
	if _, err := parseTime("not-a-time"); err == nil {
		t.Error("parseTime garbage should fail")
	}
}
