package batch

import (
	"context"
	"fmt"
	"time"

	"personetl/internal/record"
	"personetl/internal/storage"
)

// Outcome is the loader's verdict for one accepted record.
type Outcome int

const (
	OutcomeInserted Outcome = iota + 1
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeIgnored:
		return "ignored"
	}
	return "unknown"
}

// Loader performs the idempotent check-then-insert for fact rows.
//
// The natural key is (nombre, edad, ciudad_id). An existing row is left
// untouched (no update path) and counted as an ignored duplicate. The
// store's UNIQUE constraint backs the lookup: if the insert still violates
// it, something raced or the lookup is wrong, and the error aborts the
// source file's transaction.
type Loader struct {
	tx  storage.Tx
	now func() time.Time
}

func NewLoader(tx storage.Tx, now func() time.Time) *Loader {
	if now == nil {
		now = time.Now
	}
	return &Loader{tx: tx, now: now}
}

// Load inserts p unless a row with the same natural key already exists.
func (l *Loader) Load(ctx context.Context, p record.Person, cityID int64, runID string) (Outcome, error) {
	exists, err := l.tx.PersonExists(ctx, p.Name, p.Age, cityID)
	if err != nil {
		return 0, fmt.Errorf("person lookup (%s, %d, %d): %w", p.Name, p.Age, cityID, err)
	}
	if exists {
		return OutcomeIgnored, nil
	}

	row := storage.PersonRow{
		Name:        p.Name,
		Age:         p.Age,
		CityID:      cityID,
		ProcessedAt: l.now().UTC(),
		RunID:       runID,
	}
	if err := l.tx.InsertPerson(ctx, row); err != nil {
		return 0, fmt.Errorf("insert person (%s, %d, %d): %w", p.Name, p.Age, cityID, err)
	}
	return OutcomeInserted, nil
}
