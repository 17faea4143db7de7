// Package sink persists rejected records outside the relational store so
// they can be traced back to the source file that produced them.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"personetl/internal/record"
)

// ReasonColumn is appended to the source columns in rejection files.
// The name is part of the on-disk contract inherited from the legacy
// pipeline.
const ReasonColumn = "motivo"

// DirSink writes one rejection CSV per source file into a directory, named
// rejected_<source base name>. Files are created lazily on the first reject
// for a source, so sources without rejects leave nothing behind.
type DirSink struct {
	dir   string
	files map[string]*sourceFile
}

type sourceFile struct {
	f       *os.File
	w       *csv.Writer
	columns []string
}

// NewDirSink creates the target directory if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rejected dir: %w", err)
	}
	return &DirSink{dir: dir, files: make(map[string]*sourceFile)}, nil
}

// Write records one rejection for the given source.
func (s *DirSink) Write(source string, rej record.Rejected) error {
	sf, err := s.fileFor(source, rej.Raw.Columns)
	if err != nil {
		return err
	}

	row := make([]string, 0, len(sf.columns)+1)
	for _, col := range sf.columns {
		v, _ := rej.Raw.Get(col)
		row = append(row, v)
	}
	row = append(row, rej.Reason.String())

	if err := sf.w.Write(row); err != nil {
		return fmt.Errorf("write reject for %s: %w", source, err)
	}
	return nil
}

func (s *DirSink) fileFor(source string, columns []string) (*sourceFile, error) {
	if sf, ok := s.files[source]; ok {
		return sf, nil
	}

	path := filepath.Join(s.dir, "rejected_"+filepath.Base(source))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	header := append(append([]string{}, columns...), ReasonColumn)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header %s: %w", path, err)
	}

	sf := &sourceFile{f: f, w: w, columns: columns}
	s.files[source] = sf
	return sf, nil
}

// Close flushes and closes all open rejection files.
func (s *DirSink) Close() error {
	var firstErr error
	for _, sf := range s.files {
		sf.w.Flush()
		if err := sf.w.Error(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := sf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = make(map[string]*sourceFile)
	return firstErr
}
