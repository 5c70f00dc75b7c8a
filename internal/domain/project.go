package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/couchcryptid/streetlight-crime-etl/internal/spatial"
)

// Mode selects the temporal policy applied after the spatial join.
type Mode string

const (
	// ModeWindow keeps crimes inside the request's service window.
	ModeWindow Mode = "window"
	// ModeBuckets keeps crimes in the lag buckets before the request.
	ModeBuckets Mode = "buckets"
)

// ParseModes parses a comma-separated mode list, rejecting unknown and
// duplicate entries.
func ParseModes(s string) ([]Mode, error) {
	var modes []Mode
	seen := make(map[Mode]bool)
	for part := range strings.SplitSeq(s, ",") {
		m := Mode(strings.ToLower(strings.TrimSpace(part)))
		if m == "" {
			continue
		}
		if m != ModeWindow && m != ModeBuckets {
			return nil, fmt.Errorf("unknown join mode %q", m)
		}
		if seen[m] {
			return nil, fmt.Errorf("duplicate join mode %q", m)
		}
		seen[m] = true
		modes = append(modes, m)
	}
	if len(modes) == 0 {
		return nil, fmt.Errorf("no join modes configured")
	}
	return modes, nil
}

// Output column names that are not feed columns.
const (
	ColRequestID         = "request_id"
	ColCrimeDate         = "crime_date"
	ColDaysBeforeRequest = "days_before_request"
	ColBucketStart       = "bucket_start"
	ColBucketEnd         = "bucket_end"
)

// Field is one named output value.
type Field struct {
	Name  string
	Value any
}

// Row is one output feature: the crime point plus the projected fields, in
// column order. Absent optional fields are omitted, not defaulted.
type Row struct {
	Key      string
	Fields   []Field
	Geometry spatial.Point
}

// Get returns a field value by name.
func (r Row) Get(name string) (any, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Result is the materialized output of one mode.
type Result struct {
	Mode Mode
	CRS  spatial.CRS
	Rows []Row
}

type rowBuilder struct {
	fields []Field
}

func (b *rowBuilder) add(name string, v any) {
	b.fields = append(b.fields, Field{Name: name, Value: v})
}

// addOptional skips empty strings.
func (b *rowBuilder) addOptional(name, v string) {
	if v != "" {
		b.add(name, v)
	}
}

func (b *rowBuilder) crime(c *CrimePoint) {
	b.add(ColID, c.ID)
	b.addOptional(ColPrimaryType, c.Category)
	b.add(ColCrimeDate, FormatTimestamp(c.OccurredAt))
	if y, err := strconv.Atoi(c.Year); err == nil {
		b.add(ColYear, y)
	} else {
		b.addOptional(ColYear, c.Year)
	}
	b.addOptional(ColCommunityArea, c.CommunityArea)
	b.addOptional(ColBeat, c.Beat)
	b.addOptional(ColDistrict, c.District)
	b.addOptional(ColWard, c.Ward)
}

func (b *rowBuilder) request(buf *Buffer) {
	b.add(ColRequestID, buf.Request.RequestID)
	b.add(ColServiceRequestNumber, buf.Request.RequestID)
	b.add(ColBufferRadius, buf.RadiusM)
	b.add(ColCreationDate, FormatTimestamp(buf.Request.CreationTime))
}

// RowKey identifies a (crime, request, radius) triple.
func RowKey(m Match) string {
	return m.Crime.ID + "|" + m.Buffer.Request.RequestID + "|" + strconv.FormatFloat(m.Buffer.RadiusM, 'f', -1, 64)
}

// ProjectWindow builds the service-window output rows, one per match.
func ProjectWindow(matches []Match, crs spatial.CRS) Result {
	rows := make([]Row, 0, len(matches))
	for _, m := range matches {
		var b rowBuilder
		b.crime(m.Crime)
		b.request(m.Buffer)
		if c := m.Buffer.Request.CompletionTime; c != nil {
			b.add(ColCompletionDate, FormatTimestamp(*c))
		}
		b.addOptional(ColStatus, m.Buffer.Request.Status)
		rows = append(rows, Row{Key: RowKey(m), Fields: b.fields, Geometry: m.Crime.Location})
	}
	return Result{Mode: ModeWindow, CRS: crs, Rows: rows}
}

// ProjectBuckets builds the lag-bucket output rows, one per bucket match.
func ProjectBuckets(matches []BucketMatch, crs spatial.CRS) Result {
	rows := make([]Row, 0, len(matches))
	for _, m := range matches {
		var b rowBuilder
		b.crime(m.Crime)
		b.request(m.Buffer)
		b.addOptional(ColStatus, m.Buffer.Request.Status)
		b.add(ColDaysBeforeRequest, m.Bucket.Index)
		b.add(ColBucketStart, FormatTimestamp(m.Bucket.Start))
		b.add(ColBucketEnd, FormatTimestamp(m.Bucket.End))
		rows = append(rows, Row{Key: RowKey(m.Match), Fields: b.fields, Geometry: m.Crime.Location})
	}
	return Result{Mode: ModeBuckets, CRS: crs, Rows: rows}
}
