package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/streetlight-crime-etl/internal/spatial"
)

// CrimePoint is one reported incident. Location starts in WGS84 and is
// reprojected before the spatial join.
type CrimePoint struct {
	ID         string
	OccurredAt time.Time
	Category   string
	Year       string
	Location   spatial.Point

	// Administrative pass-through attributes; empty when absent.
	CommunityArea string
	Beat          string
	District      string
	Ward          string
}

// Reproject returns a copy of the crime with its location in crs.
func (c CrimePoint) Reproject(crs spatial.CRS) (CrimePoint, error) {
	loc, err := spatial.Reproject(c.Location, crs)
	if err != nil {
		return CrimePoint{}, fmt.Errorf("crime %s: %w", c.ID, err)
	}
	c.Location = loc
	return c, nil
}

// StreetlightRequest is one "all out" service request. CompletionTime is nil
// while the request is open. Location is the zero Point when the request was
// loaded from a buffers file, which carries only polygons.
type StreetlightRequest struct {
	RequestID      string
	CreationTime   time.Time
	CompletionTime *time.Time
	Status         string
	Location       spatial.Point
}

// Buffer is the polygon around a request location at one radius. There is
// exactly one Buffer per (request, radius).
type Buffer struct {
	Request *StreetlightRequest
	RadiusM float64
	Polygon spatial.Polygon
}

// Match is a crime contained in a buffer. A crime can match several radii of
// one request and several requests; every pair is kept.
type Match struct {
	Crime  *CrimePoint
	Buffer *Buffer
}

// DropReason classifies why a record was excluded during parsing.
type DropReason string

const (
	DropMissingID       DropReason = "missing_id"
	DropBadTimestamp    DropReason = "bad_timestamp"
	DropMissingCreation DropReason = "missing_creation_date"
	DropMissingLocation DropReason = "missing_location"
	DropMissingGeometry DropReason = "missing_geometry"
	DropBadRadius       DropReason = "bad_radius"
	DropDuplicate       DropReason = "duplicate"
)

// DropError reports a record excluded by the data-cleaning policy. It is
// counted and logged, never fatal.
type DropError struct {
	Reason DropReason
	Detail string
}

func (e *DropError) Error() string {
	if e.Detail == "" {
		return "record dropped: " + string(e.Reason)
	}
	return fmt.Sprintf("record dropped: %s: %s", e.Reason, e.Detail)
}

// DropCounts tallies dropped records by reason.
type DropCounts map[DropReason]int

// Record counts err if it is a *DropError and reports whether it was one.
func (d DropCounts) Record(err error) bool {
	var de *DropError
	if !errors.As(err, &de) {
		return false
	}
	d[de.Reason]++
	return true
}

// Total returns the number of drops across every reason.
func (d DropCounts) Total() int {
	n := 0
	for _, c := range d {
		n += c
	}
	return n
}

// Merge adds every count in other to d.
func (d DropCounts) Merge(other DropCounts) {
	for r, c := range other {
		d[r] += c
	}
}

func drop(reason DropReason, format string, args ...any) error {
	return &DropError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// timestampLayouts covers SODA floating timestamps, RFC3339, and the portal
// CSV export format.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"01/02/2006 03:04:05 PM",
	"2006-01-02",
}

// ParseTimestamp parses a portal timestamp as a naive UTC value. Values
// carrying an offset are converted to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTimestamp renders a timestamp in the SODA floating layout, in UTC
// with milliseconds, so ParseTimestamp reads back the same instant.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayouts[0])
}

func parseLatLon(rec Record) (spatial.Point, bool) {
	latS, lonS := rec.Get(ColLatitude), rec.Get(ColLongitude)
	if latS == "" || lonS == "" {
		return spatial.Point{}, false
	}
	lat, err := strconv.ParseFloat(latS, 64)
	if err != nil {
		return spatial.Point{}, false
	}
	lon, err := strconv.ParseFloat(lonS, 64)
	if err != nil {
		return spatial.Point{}, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return spatial.Point{}, false
	}
	return spatial.NewGeographic(lat, lon), true
}

// ParseCrime builds a CrimePoint in WGS84. It returns a *DropError when the
// id, date, or coordinates are missing or unparseable.
func ParseCrime(rec Record) (CrimePoint, error) {
	id := rec.Get(ColID)
	if id == "" {
		return CrimePoint{}, drop(DropMissingID, "crime without id")
	}
	occurred, err := ParseTimestamp(rec.Get(ColDate))
	if err != nil {
		return CrimePoint{}, drop(DropBadTimestamp, "crime %s: %v", id, err)
	}
	loc, ok := parseLatLon(rec)
	if !ok {
		return CrimePoint{}, drop(DropMissingLocation, "crime %s", id)
	}

	return CrimePoint{
		ID:            id,
		OccurredAt:    occurred,
		Category:      rec.Get(ColPrimaryType),
		Year:          rec.Get(ColYear),
		Location:      loc,
		CommunityArea: rec.Get(ColCommunityArea),
		Beat:          rec.Get(ColBeat),
		District:      rec.Get(ColDistrict),
		Ward:          rec.Get(ColWard),
	}, nil
}

// ParseRequestWindow reads the identity, service window, and status shared
// by feed rows and buffer features. An unparseable completion date is
// treated as absent.
func ParseRequestWindow(rec Record) (StreetlightRequest, error) {
	id := rec.Get(ColServiceRequestNumber)
	if id == "" {
		return StreetlightRequest{}, drop(DropMissingID, "request without service_request_number")
	}
	created, err := ParseTimestamp(rec.Get(ColCreationDate))
	if err != nil {
		return StreetlightRequest{}, drop(DropMissingCreation, "request %s: %v", id, err)
	}

	req := StreetlightRequest{
		RequestID:    id,
		CreationTime: created,
		Status:       rec.Get(ColStatus),
	}
	if completed, err := ParseTimestamp(rec.Get(ColCompletionDate)); err == nil {
		req.CompletionTime = &completed
	}
	return req, nil
}

// ParseRequest builds a StreetlightRequest in WGS84 from a feed row.
func ParseRequest(rec Record) (StreetlightRequest, error) {
	req, err := ParseRequestWindow(rec)
	if err != nil {
		return StreetlightRequest{}, err
	}
	loc, ok := parseLatLon(rec)
	if !ok {
		return StreetlightRequest{}, drop(DropMissingLocation, "request %s", req.RequestID)
	}
	req.Location = loc
	return req, nil
}
