package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrMissingColumn means an input table lacks a column the stage requires.
// It indicates an upstream contract violation and is fatal.
var ErrMissingColumn = errors.New("missing required column")

// Record is one feed row keyed by column name. Absent and empty values are
// equivalent.
type Record map[string]string

// Get returns the trimmed value for a column.
func (r Record) Get(col string) string {
	return strings.TrimSpace(r[col])
}

// Table is an ordered column set plus rows. Columns lists every column the
// source declared, even when individual rows omit a value.
type Table struct {
	Columns []string
	Rows    []Record
}

// Has reports whether the table declares col.
func (t Table) Has(col string) bool {
	return slices.Contains(t.Columns, col)
}

// AddColumns appends any columns not already declared, preserving order.
func (t *Table) AddColumns(cols ...string) {
	for _, c := range cols {
		if c != "" && !t.Has(c) {
			t.Columns = append(t.Columns, c)
		}
	}
}

// RenameColumn renames from to to in the column list and every row. It is a
// no-op when from is absent.
func (t *Table) RenameColumn(from, to string) {
	i := slices.Index(t.Columns, from)
	if i < 0 {
		return
	}
	t.Columns[i] = to
	for _, row := range t.Rows {
		if v, ok := row[from]; ok {
			row[to] = v
			delete(row, from)
		}
	}
}

// Column names used by the feeds.
const (
	ColID            = "id"
	ColDate          = "date"
	ColYear          = "year"
	ColPrimaryType   = "primary_type"
	ColLatitude      = "latitude"
	ColLongitude     = "longitude"
	ColCommunityArea = "community_area"
	ColBeat          = "beat"
	ColDistrict      = "district"
	ColWard          = "ward"

	ColServiceRequestNumber = "service_request_number"
	ColCreationDate         = "creation_date"
	ColCompletionDate       = "completion_date"
	ColStatus               = "status"
	ColBufferRadius         = "buffer_radius_m"
)

// CrimeRequiredColumns must be present on the crime table.
var CrimeRequiredColumns = []string{ColID, ColDate, ColLatitude, ColLongitude}

// RequestRequiredColumns must be present on the streetlight request table.
var RequestRequiredColumns = []string{ColServiceRequestNumber, ColCreationDate, ColLatitude, ColLongitude}

// CanonicalizeRequestColumns maps legacy streetlight column spellings onto
// the canonical names when the canonical column is missing.
func CanonicalizeRequestColumns(t *Table) {
	if !t.Has(ColCreationDate) && t.Has("creating_date") {
		t.RenameColumn("creating_date", ColCreationDate)
	}
	if !t.Has(ColCompletionDate) && t.Has("completed_date") {
		t.RenameColumn("completed_date", ColCompletionDate)
	}
}

// RequireColumns returns ErrMissingColumn naming every absent column.
func RequireColumns(t Table, table string, cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s table: %w: %s", table, ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}
