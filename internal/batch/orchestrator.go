// Package batch is the execution engine: it drives raw records from sources
// through validation into the relational store, routes rejects to the side
// channel, and audits every run.
package batch

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"personetl/internal/metrics"
	"personetl/internal/record"
	"personetl/internal/storage"
	"personetl/internal/validate"
)

// Logger is the minimal logging interface used by the orchestrator.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// RecordReader supplies raw records from one source in file order.
// Next returns io.EOF at end-of-data.
type RecordReader interface {
	Next() (record.Raw, error)
	Close() error
}

// OpenSourceFn opens one source by identifier.
type OpenSourceFn func(path string) (RecordReader, error)

// RejectionSink durably records rejected records outside the store.
type RejectionSink interface {
	Write(source string, rej record.Rejected) error
}

// Summary is the outcome of one source file's processing.
type Summary struct {
	SourceFile string

	// Run holds the finalized audit row when Err is nil.
	Run storage.RunRow

	Err error
}

func (s Summary) Failed() bool { return s.Err != nil }

// Orchestrator wires the validator, the resolver/loader, the auditor, and
// the external source/sink together. Processing is strictly sequential:
// records in source order, sources in caller order.
type Orchestrator struct {
	Store      storage.Store
	Sink       RejectionSink
	Validator  *validate.Validator
	OpenSource OpenSourceFn

	// Logger is optional; nil discards logs.
	Logger Logger

	// Now is a clock seam for tests. Nil means time.Now.
	Now func() time.Time
}

// RunBatch processes each source independently and in order.
//
// A failure inside one source rolls back that file's transaction, yields a
// failed Summary, and the batch continues. Only a store-level failure
// (schema cannot be ensured) aborts the whole batch.
func (o *Orchestrator) RunBatch(ctx context.Context, sources []string) ([]Summary, error) {
	if o.Store == nil {
		return nil, fmt.Errorf("batch: Store is required")
	}
	if o.OpenSource == nil {
		return nil, fmt.Errorf("batch: OpenSource is required")
	}

	logf := o.logf()

	if err := o.Store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	summaries := make([]Summary, 0, len(sources))
	for _, src := range sources {
		start := o.now()
		run, err := o.runSource(ctx, src)
		dur := time.Since(start).Truncate(time.Millisecond)

		if err != nil {
			logf("stage=source status=error source=%s duration=%s err=%v", src, dur, err)
			metrics.IncCounter("etl_runs_total", 1, metrics.Labels{"status": "error"})
			summaries = append(summaries, Summary{SourceFile: src, Err: err})
			continue
		}

		logf("stage=source status=ok source=%s run_id=%s valid=%d rejected=%d inserted=%d ignored=%d duration=%s",
			src, run.RunID, run.ValidCount, run.RejectedCount, run.InsertedNew, run.IgnoredDuplicates, dur)
		metrics.IncCounter("etl_runs_total", 1, metrics.Labels{"status": "ok"})
		metrics.ObserveHistogram("etl_source_duration_seconds", dur.Seconds(), nil)
		summaries = append(summaries, Summary{SourceFile: src, Run: run})
	}

	return summaries, nil
}

// runSource processes one source file inside one transaction.
func (o *Orchestrator) runSource(ctx context.Context, src string) (storage.RunRow, error) {
	rdr, err := o.OpenSource(src)
	if err != nil {
		return storage.RunRow{}, fmt.Errorf("open source %s: %w", src, err)
	}
	defer rdr.Close()

	tx, err := o.Store.Begin(ctx)
	if err != nil {
		return storage.RunRow{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	aud := BeginRun(src, o.now())
	resolver := NewCityResolver(tx)
	loader := NewLoader(tx, o.Now)
	validator := o.Validator
	if validator == nil {
		validator = validate.New(validate.DefaultAgeMin, validate.DefaultAgeMax)
	}

	for {
		raw, err := rdr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return storage.RunRow{}, fmt.Errorf("read %s: %w", src, err)
		}

		person, reason, ok := validator.Validate(raw)
		if !ok {
			aud.RecordRejected()
			metrics.IncCounter("etl_records_total", 1, metrics.Labels{"kind": "rejected"})
			if o.Sink != nil {
				if err := o.Sink.Write(src, record.Rejected{Raw: raw, Reason: reason}); err != nil {
					return storage.RunRow{}, fmt.Errorf("reject sink %s: %w", src, err)
				}
			}
			continue
		}

		aud.RecordValid()
		metrics.IncCounter("etl_records_total", 1, metrics.Labels{"kind": "valid"})

		cityID, err := resolver.Resolve(ctx, person.City)
		if err != nil {
			return storage.RunRow{}, err
		}

		outcome, err := loader.Load(ctx, person, cityID, aud.RunID())
		if err != nil {
			return storage.RunRow{}, err
		}
		switch outcome {
		case OutcomeInserted:
			aud.RecordInserted()
		case OutcomeIgnored:
			aud.RecordIgnored()
		}
	}

	run, err := aud.Finalize(ctx, tx)
	if err != nil {
		return storage.RunRow{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.RunRow{}, fmt.Errorf("commit %s: %w", src, err)
	}
	return run, nil
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) logf() func(format string, v ...any) {
	if o.Logger == nil {
		l := log.New(io.Discard, "", 0)
		return l.Printf
	}
	return o.Logger.Printf
}
