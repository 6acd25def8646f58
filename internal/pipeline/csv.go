// Package pipeline transforms CSV rows: coordinate enrichment with TIGER
// boundary attributes, and reverse address resolution.
package pipeline

import (
	"encoding/csv"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Table is an in-memory CSV with a header row.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable reads a CSV file into memory. The first row is the header.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read %s", path)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("pipeline: %s is empty", path)
	}

	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	return &Table{Header: header, Rows: records[1:]}, nil
}

// WriteTable writes a table to a CSV file.
func WriteTable(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "pipeline: create %s", path)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(t.Header); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "pipeline: write header")
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "pipeline: write rows")
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "pipeline: flush")
	}

	return eris.Wrapf(f.Close(), "pipeline: close %s", path)
}

// ColumnIndex returns the index of a header column by case-insensitive name,
// or -1 when absent.
func (t *Table) ColumnIndex(name string) int {
	for i, h := range t.Header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}
