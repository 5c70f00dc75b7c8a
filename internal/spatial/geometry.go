package spatial

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Point is a coordinate tagged with its CRS. For WGS84 the coordinate is
// (lon, lat); for projected systems it is (easting, northing).
type Point struct {
	Coord orb.Point
	CRS   CRS
}

// NewGeographic builds a WGS84 point from latitude and longitude degrees.
func NewGeographic(lat, lon float64) Point {
	return Point{Coord: orb.Point{lon, lat}, CRS: WGS84}
}

// Polygon is an orb polygon tagged with its CRS.
type Polygon struct {
	Geom orb.Polygon
	CRS  CRS
}

// DefaultQuadSegments matches the common GIS default of 16 segments per
// quarter circle.
const DefaultQuadSegments = 16

// Buffer returns the polygon approximating every location within radiusMeters
// of center. The ring has 4*quadSegs vertices, is counter-clockwise, and is
// closed. center must be in a projected CRS.
func Buffer(center Point, radiusMeters float64, quadSegs int) (Polygon, error) {
	if err := RequireProjected(center.CRS); err != nil {
		return Polygon{}, fmt.Errorf("buffer: %w", err)
	}
	if radiusMeters <= 0 {
		return Polygon{}, fmt.Errorf("buffer: radius must be positive, got %g", radiusMeters)
	}
	if quadSegs < 1 {
		quadSegs = DefaultQuadSegments
	}

	r := radiusMeters * center.CRS.UnitsPerMeter()
	n := 4 * quadSegs
	ring := make(orb.Ring, 0, n+1)
	for i := range n {
		theta := 2 * math.Pi * float64(i) / float64(n)
		ring = append(ring, orb.Point{
			center.Coord[0] + r*math.Cos(theta),
			center.Coord[1] + r*math.Sin(theta),
		})
	}
	ring = append(ring, ring[0])

	return Polygon{Geom: orb.Polygon{ring}, CRS: center.CRS}, nil
}
