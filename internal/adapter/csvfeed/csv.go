// Package csvfeed caches feed tables as CSV files with a header row.
package csvfeed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/couchcryptid/streetlight-crime-etl/internal/atomicfile"
	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
)

// ReadTable decodes a CSV with a header row. Short rows leave the trailing
// columns absent.
func ReadTable(r io.Reader) (domain.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return domain.Table{}, nil
	}
	if err != nil {
		return domain.Table{}, fmt.Errorf("read csv header: %w", err)
	}

	header = slices.Clone(header)

	var table domain.Table
	table.AddColumns(header...)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Table{}, fmt.Errorf("read csv: %w", err)
		}
		rec := make(domain.Record, len(header))
		for i, v := range row {
			if i < len(header) && v != "" {
				rec[header[i]] = v
			}
		}
		table.Rows = append(table.Rows, rec)
	}
	return table, nil
}

// WriteTable encodes a table with its declared columns as the header.
func WriteTable(w io.Writer, table domain.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(table.Columns))
	for _, rec := range table.Rows {
		for i, col := range table.Columns {
			row[i] = rec[col]
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadFile reads a cached table from path.
func ReadFile(path string) (domain.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Table{}, err
	}
	defer f.Close()

	table, err := ReadTable(f)
	if err != nil {
		return domain.Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// WriteFile atomically replaces path with the encoded table.
func WriteFile(path string, table domain.Table) error {
	return atomicfile.Write(path, func(w io.Writer) error {
		return WriteTable(w, table)
	})
}

// File is a table source backed by a CSV cache at the given path.
type File string

// Load reads the cache.
func (f File) Load(ctx context.Context) (domain.Table, error) {
	if err := ctx.Err(); err != nil {
		return domain.Table{}, err
	}
	return ReadFile(string(f))
}
