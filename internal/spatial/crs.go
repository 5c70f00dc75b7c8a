// Package spatial holds the geometry used by the join: coordinate reference
// systems, reprojection, circular buffers, and a point-in-polygon index.
//
// Every geometry carries its CRS. Operations that combine geometries assert
// matching CRS tags and return ErrCRSMismatch instead of reprojecting. The only
// way to change a geometry's CRS is an explicit call to Reproject.
package spatial

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownCRS is returned for a CRS code with no registered definition.
	ErrUnknownCRS = errors.New("unknown coordinate reference system")

	// ErrCRSMismatch is returned when operands of a geometric operation are
	// expressed in different coordinate reference systems.
	ErrCRSMismatch = errors.New("coordinate reference system mismatch")

	// ErrNotProjected is returned when a distance-based operation is asked to
	// work in a geographic (degree-based) CRS.
	ErrNotProjected = errors.New("coordinate reference system is not projected")
)

// CRS identifies a coordinate reference system by EPSG code. The zero value
// means "no CRS" and is never valid for geometric operations.
type CRS int

const (
	// WGS84 is geographic latitude/longitude in degrees.
	WGS84 CRS = 4326
	// IllinoisEastFt is NAD83 / Illinois East in US survey feet.
	IllinoisEastFt CRS = 3435
	// IllinoisEastM is NAD83 / Illinois East in metres.
	IllinoisEastM CRS = 26971
)

// usSurveyFoot is the length of one US survey foot in metres.
const usSurveyFoot = 1200.0 / 3937.0

type crsDef struct {
	name          string
	projected     bool
	unitsPerMeter float64
	tm            *transverseMercator
}

// NAD83 / Illinois East, EPSG:26971 parameters. EPSG:3435 is the same
// projection with a false easting of 984250 ftUS (= 300000 m).
var illinoisEast = &transverseMercator{
	lat0: 36 + 40.0/60,
	lon0: -(88 + 20.0/60),
	k0:   0.999975,
	fe:   300000,
	fn:   0,
}

var registry = map[CRS]crsDef{
	WGS84:          {name: "WGS 84", unitsPerMeter: 0},
	IllinoisEastFt: {name: "NAD83 / Illinois East (ftUS)", projected: true, unitsPerMeter: 1 / usSurveyFoot, tm: illinoisEast},
	IllinoisEastM:  {name: "NAD83 / Illinois East", projected: true, unitsPerMeter: 1, tm: illinoisEast},
}

// ParseCRS accepts "EPSG:3435", "epsg:3435", "3435", and the OGC URN forms
// "urn:ogc:def:crs:EPSG::3435" and "urn:ogc:def:crs:OGC:1.3:CRS84".
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrUnknownCRS)
	}
	upper := strings.ToUpper(s)
	if strings.HasSuffix(upper, "CRS84") {
		return WGS84, nil
	}

	code := upper
	if i := strings.LastIndex(upper, ":"); i >= 0 {
		code = upper[i+1:]
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCRS, s)
	}
	c := CRS(n)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCRS, s)
	}
	return c, nil
}

// Valid reports whether the CRS has a registered definition.
func (c CRS) Valid() bool {
	_, ok := registry[c]
	return ok
}

// Projected reports whether coordinates are planar distances rather than degrees.
func (c CRS) Projected() bool {
	return registry[c].projected
}

// UnitsPerMeter converts metres into the CRS's linear unit. Zero for
// geographic systems.
func (c CRS) UnitsPerMeter() float64 {
	return registry[c].unitsPerMeter
}

// Name is the human-readable CRS name.
func (c CRS) Name() string {
	if d, ok := registry[c]; ok {
		return d.name
	}
	return "unknown"
}

func (c CRS) String() string {
	return "EPSG:" + strconv.Itoa(int(c))
}

// URN is the OGC URN used in the GeoJSON "crs" member.
func (c CRS) URN() string {
	return "urn:ogc:def:crs:EPSG::" + strconv.Itoa(int(c))
}

// RequireProjected returns ErrNotProjected (or ErrUnknownCRS) unless c is a
// registered projected CRS.
func RequireProjected(c CRS) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownCRS, c)
	}
	if !c.Projected() {
		return fmt.Errorf("%w: %s", ErrNotProjected, c)
	}
	return nil
}

// RequireSame returns ErrCRSMismatch when a and b differ.
func RequireSame(a, b CRS) error {
	if a != b {
		return fmt.Errorf("%w: %s vs %s", ErrCRSMismatch, a, b)
	}
	return nil
}
