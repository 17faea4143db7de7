package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"personetl/internal/storage"
)

// Auditor accumulates one run's counters and produces the immutable
// etl_runs row. Counters live in memory until Finalize; if the file's
// transaction never commits, no partial audit state reaches the store.
type Auditor struct {
	runID     string
	startedAt time.Time
	source    string

	valid    int64
	rejected int64
	inserted int64
	ignored  int64
}

// BeginRun allocates a fresh run for one source file.
func BeginRun(source string, now time.Time) *Auditor {
	return &Auditor{
		runID:     NewRunID(source, now),
		startedAt: now.UTC(),
		source:    source,
	}
}

// NewRunID builds a run identifier: UTC microsecond timestamp, sanitized
// source name, and a random suffix. The timestamp keeps ids sortable and
// human-readable; the uuid fragment keeps them collision-free even if the
// clock repeats.
func NewRunID(source string, now time.Time) string {
	ts := now.UTC().Format("20060102T150405") + fmt.Sprintf("%06dZ", now.Nanosecond()/1000)
	return ts + "_" + sanitizeSource(source) + "_" + uuid.NewString()[:8]
}

func sanitizeSource(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (a *Auditor) RunID() string { return a.runID }

func (a *Auditor) RecordValid()    { a.valid++ }
func (a *Auditor) RecordRejected() { a.rejected++ }
func (a *Auditor) RecordInserted() { a.inserted++ }
func (a *Auditor) RecordIgnored()  { a.ignored++ }

// Finalize writes the completed audit row inside the file's transaction and
// returns it. The conservation invariant valid = inserted + ignored is
// checked here; a mismatch means the orchestrator miscounted.
func (a *Auditor) Finalize(ctx context.Context, tx storage.Tx) (storage.RunRow, error) {
	if a.valid != a.inserted+a.ignored {
		return storage.RunRow{}, fmt.Errorf(
			"run %s: counter mismatch: valid=%d inserted=%d ignored=%d",
			a.runID, a.valid, a.inserted, a.ignored,
		)
	}

	row := storage.RunRow{
		RunID:             a.runID,
		StartedAt:         a.startedAt,
		SourceFile:        a.source,
		ValidCount:        a.valid,
		RejectedCount:     a.rejected,
		InsertedNew:       a.inserted,
		IgnoredDuplicates: a.ignored,
	}
	if err := tx.InsertRun(ctx, row); err != nil {
		return storage.RunRow{}, fmt.Errorf("insert run %s: %w", a.runID, err)
	}
	return row, nil
}
