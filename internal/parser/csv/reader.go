// Package csv reads delimited text sources into raw records.
//
// The reader is synchronous: the batch engine processes records strictly in
// source order, so there is nothing to gain from a channel fanout here.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"personetl/internal/record"
)

// Options control parsing of one source.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune

	// TrimSpace trims each cell. Cells that trim to "" are treated as
	// missing fields. Defaults to true via DefaultOptions.
	TrimSpace bool

	// HeaderMap renames source headers to canonical field names before the
	// default canonicalization (lowercase, spaces to underscores) applies.
	HeaderMap map[string]string

	// LazyQuotes is passed through to encoding/csv.
	LazyQuotes bool
}

// DefaultOptions match the legacy input files: comma-delimited, trimmed.
func DefaultOptions() Options {
	return Options{Comma: ',', TrimSpace: true}
}

// Reader streams raw records from one delimited source.
// Next returns io.EOF at end-of-data; any other error is a read failure and
// is fatal to the source.
type Reader struct {
	src     io.ReadCloser
	cr      *csv.Reader
	columns []string
	trim    bool
	line    int
}

// Open opens a file source and reads its header.
func Open(path string, opt Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	r, err := NewReader(f, opt)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// NewReader wraps src and consumes the header row. The reader takes
// ownership of src and closes it in Close.
func NewReader(src io.ReadCloser, opt Options) (*Reader, error) {
	comma := opt.Comma
	if comma == 0 {
		comma = ','
	}

	cr := csv.NewReader(src)
	cr.Comma = comma
	cr.ReuseRecord = true
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1

	r := &Reader{src: src, cr: cr, trim: opt.TrimSpace}

	hdr, err := cr.Read()
	r.line++
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	r.columns = make([]string, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if mapped, ok := opt.HeaderMap[h]; ok {
			h = mapped
		} else {
			h = strings.ReplaceAll(strings.ToLower(h), " ", "_")
		}
		r.columns[i] = h
	}

	return r, nil
}

// Columns returns the canonicalized header, in source order.
func (r *Reader) Columns() []string { return r.columns }

// Next returns the next raw record in source order.
func (r *Reader) Next() (record.Raw, error) {
	rec, err := r.cr.Read()
	r.line++
	if err == io.EOF {
		return record.Raw{}, io.EOF
	}
	if err != nil {
		return record.Raw{}, fmt.Errorf("csv read line %d: %w", r.line, err)
	}

	values := make(map[string]string, len(r.columns))
	for i, col := range r.columns {
		if i >= len(rec) {
			break
		}
		v := rec[i]
		if r.trim {
			v = strings.TrimSpace(v)
		}
		if v == "" {
			// Empty cell: the field is missing, not present-and-empty.
			continue
		}
		values[col] = v
	}

	return record.Raw{Line: r.line, Columns: r.columns, Values: values}, nil
}

func (r *Reader) Close() error { return r.src.Close() }
