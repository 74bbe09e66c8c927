package schema

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	headerRows = 2

	colName    = 0
	colDefault = 1
	colMarker  = 5
	colValue   = 6
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV parses the ';'-separated keylist export. The first two rows are
// headers; short rows are treated as having empty trailing columns.
func ReadCSV(r io.Reader) ([]Row, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var rows []Row
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &SchemaBuildError{Row: line + 1, Reason: err.Error()}
		}
		line++
		if line <= headerRows {
			continue
		}
		rows = append(rows, Row{
			Name:         column(rec, colName),
			DefaultValue: column(rec, colDefault),
			Marker:       column(rec, colMarker),
			Value:        column(rec, colValue),
		})
	}
	if line < headerRows {
		return nil, &SchemaBuildError{Row: line, Reason: "missing header rows"}
	}
	return rows, nil
}

func column(rec []string, idx int) string {
	if idx < len(rec) {
		return rec[idx]
	}
	return ""
}

// Source holds schema rows read once; every Build call returns a catalog
// with no state shared with earlier runs.
type Source struct {
	mu   sync.RWMutex
	path string
	rows []Row
}

func NewSource(rows []Row) *Source {
	cp := make([]Row, len(rows))
	copy(cp, rows)
	return &Source{rows: cp}
}

// LoadFile reads a keylist CSV export from disk.
func LoadFile(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open %s: %w", path, err)
	}
	defer f.Close()
	rows, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	// Fail at load time rather than on the first validation call.
	if _, err := Build(rows); err != nil {
		return nil, fmt.Errorf("schema: build %s: %w", path, err)
	}
	return &Source{path: path, rows: rows}, nil
}

// Reload re-reads the file the source was loaded from.
func (s *Source) Reload() error {
	s.mu.RLock()
	path := s.path
	s.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("schema: source has no backing file")
	}
	fresh, err := LoadFile(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rows = fresh.rows
	s.mu.Unlock()
	return nil
}

func (s *Source) Build() (*Catalog, error) {
	s.mu.RLock()
	rows := s.rows
	s.mu.RUnlock()
	return Build(rows)
}

func (s *Source) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

func (s *Source) RowCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
