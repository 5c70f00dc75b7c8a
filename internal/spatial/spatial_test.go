package spatial

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const earthRadiusMeters = 6371000.0

// Near State & Madison, Chicago.
var loop = NewGeographic(41.8819, -87.6278)

func geodesicMeters(a, b Point) float64 {
	p1 := s2.LatLngFromDegrees(a.Coord[1], a.Coord[0])
	p2 := s2.LatLngFromDegrees(b.Coord[1], b.Coord[0])
	return p1.Distance(p2).Radians() * earthRadiusMeters
}

func mustProject(t *testing.T, p Point, to CRS) Point {
	t.Helper()
	out, err := Reproject(p, to)
	require.NoError(t, err)
	return out
}

func TestParseCRS(t *testing.T) {
	tests := []struct {
		in   string
		want CRS
	}{
		{"EPSG:3435", IllinoisEastFt},
		{"epsg:26971", IllinoisEastM},
		{"4326", WGS84},
		{"urn:ogc:def:crs:EPSG::3435", IllinoisEastFt},
		{"urn:ogc:def:crs:OGC:1.3:CRS84", WGS84},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseCRS(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseCRS("EPSG:9999")
	require.ErrorIs(t, err, ErrUnknownCRS)
	_, err = ParseCRS("")
	require.ErrorIs(t, err, ErrUnknownCRS)
}

func TestCRSProperties(t *testing.T) {
	assert.False(t, WGS84.Projected())
	assert.True(t, IllinoisEastFt.Projected())
	assert.InDelta(t, 3.2808333, IllinoisEastFt.UnitsPerMeter(), 1e-6)
	assert.Equal(t, 1.0, IllinoisEastM.UnitsPerMeter())
	assert.Equal(t, "urn:ogc:def:crs:EPSG::3435", IllinoisEastFt.URN())
	require.ErrorIs(t, RequireProjected(WGS84), ErrNotProjected)
	require.ErrorIs(t, RequireProjected(CRS(0)), ErrUnknownCRS)
	require.ErrorIs(t, RequireSame(WGS84, IllinoisEastFt), ErrCRSMismatch)
}

func TestReproject_ProjectionOrigin(t *testing.T) {
	origin := NewGeographic(36+40.0/60, -(88 + 20.0/60))

	m := mustProject(t, origin, IllinoisEastM)
	assert.InDelta(t, 300000, m.Coord[0], 1e-6)
	assert.InDelta(t, 0, m.Coord[1], 1e-6)

	ft := mustProject(t, origin, IllinoisEastFt)
	assert.InDelta(t, 984250, ft.Coord[0], 1e-4)
	assert.InDelta(t, 0, ft.Coord[1], 1e-4)
}

func TestReproject_RoundTrip(t *testing.T) {
	for _, crs := range []CRS{IllinoisEastFt, IllinoisEastM} {
		projected := mustProject(t, loop, crs)
		back := mustProject(t, projected, WGS84)
		assert.InDelta(t, loop.Coord[0], back.Coord[0], 1e-6)
		assert.InDelta(t, loop.Coord[1], back.Coord[1], 1e-6)
	}
}

func TestReproject_FeetAndMetresAgree(t *testing.T) {
	ft := mustProject(t, loop, IllinoisEastFt)
	m := mustProject(t, loop, IllinoisEastM)
	assert.InDelta(t, m.Coord[0], ft.Coord[0]*usSurveyFoot, 1e-6)
	assert.InDelta(t, m.Coord[1], ft.Coord[1]*usSurveyFoot, 1e-6)

	viaM := mustProject(t, m, IllinoisEastFt)
	assert.InDelta(t, ft.Coord[0], viaM.Coord[0], 1e-6)
}

func TestReproject_PreservesLocalDistance(t *testing.T) {
	// ~50 m north-east of the reference point.
	other := NewGeographic(loop.Coord[1]+0.0003, loop.Coord[0]+0.0004)
	want := geodesicMeters(loop, other)

	a := mustProject(t, loop, IllinoisEastM)
	b := mustProject(t, other, IllinoisEastM)
	got := planar.Distance(a.Coord, b.Coord)

	assert.InEpsilon(t, want, got, 0.01)
}

func TestReproject_UnknownCRS(t *testing.T) {
	_, err := Reproject(loop, CRS(1234))
	require.ErrorIs(t, err, ErrUnknownCRS)
	_, err = Reproject(Point{Coord: orb.Point{1, 2}}, WGS84)
	require.ErrorIs(t, err, ErrUnknownCRS)
}

func TestBuffer(t *testing.T) {
	center := mustProject(t, loop, IllinoisEastFt)

	poly, err := Buffer(center, 30, DefaultQuadSegments)
	require.NoError(t, err)
	require.Len(t, poly.Geom, 1)
	ring := poly.Geom[0]
	assert.Len(t, ring, 65)
	assert.Equal(t, ring[0], ring[len(ring)-1])
	assert.Equal(t, IllinoisEastFt, poly.CRS)

	radiusFt := 30 * IllinoisEastFt.UnitsPerMeter()
	for _, p := range ring {
		assert.InDelta(t, radiusFt, planar.Distance(center.Coord, p), 1e-6)
	}
	assert.True(t, planar.PolygonContains(poly.Geom, center.Coord))
}

func TestBuffer_RejectsGeographic(t *testing.T) {
	_, err := Buffer(loop, 30, DefaultQuadSegments)
	require.ErrorIs(t, err, ErrNotProjected)
}

func TestBuffer_RejectsNonPositiveRadius(t *testing.T) {
	center := mustProject(t, loop, IllinoisEastM)
	_, err := Buffer(center, 0, DefaultQuadSegments)
	require.Error(t, err)
}

func buildIndex(t *testing.T, crs CRS, polys ...Polygon) *Index {
	t.Helper()
	b, err := NewIndexBuilder(crs)
	require.NoError(t, err)
	for _, p := range polys {
		_, err := b.Insert(p)
		require.NoError(t, err)
	}
	idx, err := b.Build()
	require.NoError(t, err)
	return idx
}

func TestIndex_Containing(t *testing.T) {
	center := Point{Coord: orb.Point{1000, 1000}, CRS: IllinoisEastM}
	far := Point{Coord: orb.Point{5000, 5000}, CRS: IllinoisEastM}

	b15, err := Buffer(center, 15, DefaultQuadSegments)
	require.NoError(t, err)
	b30, err := Buffer(center, 30, DefaultQuadSegments)
	require.NoError(t, err)
	b50, err := Buffer(center, 50, DefaultQuadSegments)
	require.NoError(t, err)
	bFar, err := Buffer(far, 50, DefaultQuadSegments)
	require.NoError(t, err)

	idx := buildIndex(t, IllinoisEastM, b15, b30, b50, bFar)
	assert.Equal(t, 4, idx.Len())

	tests := []struct {
		name string
		at   orb.Point
		want []int
	}{
		{"centre hits all three radii", orb.Point{1000, 1000}, []int{0, 1, 2}},
		{"20m away hits 30 and 50", orb.Point{1020, 1000}, []int{1, 2}},
		{"40m away hits 50", orb.Point{1000, 960}, []int{2}},
		{"60m away hits nothing", orb.Point{1060, 1000}, nil},
		{"other cluster", orb.Point{5010, 4990}, []int{3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := idx.Containing(Point{Coord: tc.at, CRS: IllinoisEastM})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIndex_BoundaryIsInclusive(t *testing.T) {
	square := Polygon{
		Geom: orb.Polygon{orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}},
		CRS:  IllinoisEastM,
	}
	idx := buildIndex(t, IllinoisEastM, square)

	got, err := idx.Containing(Point{Coord: orb.Point{10, 5}, CRS: IllinoisEastM})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, got)
}

func TestIndex_CRSMismatch(t *testing.T) {
	b, err := NewIndexBuilder(IllinoisEastM)
	require.NoError(t, err)

	_, err = b.Insert(Polygon{Geom: orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {0, 1}, {0, 0}}}, CRS: IllinoisEastFt})
	require.ErrorIs(t, err, ErrCRSMismatch)

	idx, err := b.Build()
	require.NoError(t, err)
	_, err = idx.Containing(loop)
	require.ErrorIs(t, err, ErrCRSMismatch)

	_, err = NewIndexBuilder(WGS84)
	require.ErrorIs(t, err, ErrNotProjected)
}

func TestIndex_Empty(t *testing.T) {
	idx := buildIndex(t, IllinoisEastM)
	got, err := idx.Containing(Point{Coord: orb.Point{0, 0}, CRS: IllinoisEastM})
	require.NoError(t, err)
	assert.Empty(t, got)
}

// bruteForce is the reference nested-loop join the index must agree with.
func bruteForce(points []Point, polys []Polygon) []Pair {
	var out []Pair
	for i, p := range points {
		for j, poly := range polys {
			if planar.PolygonContains(poly.Geom, p.Coord) {
				out = append(out, Pair{Point: i, Polygon: j})
			}
		}
	}
	return out
}

func TestJoin_MatchesBruteForce(t *testing.T) {
	var polys []Polygon
	for gx := range 10 {
		for gy := range 10 {
			c := Point{Coord: orb.Point{float64(gx) * 70, float64(gy) * 70}, CRS: IllinoisEastM}
			for _, r := range []float64{15, 30, 50} {
				p, err := Buffer(c, r, 8)
				require.NoError(t, err)
				polys = append(polys, p)
			}
		}
	}
	idx := buildIndex(t, IllinoisEastM, polys...)

	var points []Point
	for i := range 10000 {
		x := math.Mod(float64(i)*37.3, 700)
		y := math.Mod(float64(i)*91.7, 700)
		points = append(points, Point{Coord: orb.Point{x, y}, CRS: IllinoisEastM})
	}

	want := bruteForce(points, polys)
	for _, workers := range []int{1, 3, 8} {
		got, err := Join(context.Background(), points, idx, workers)
		require.NoError(t, err)
		assert.Equal(t, want, got, "workers=%d", workers)
	}
}

func TestJoin_RejectsMismatchedPoints(t *testing.T) {
	idx := buildIndex(t, IllinoisEastM)
	_, err := Join(context.Background(), []Point{loop}, idx, 2)
	require.ErrorIs(t, err, ErrCRSMismatch)
}

func TestJoin_Cancelled(t *testing.T) {
	c := Point{Coord: orb.Point{0, 0}, CRS: IllinoisEastM}
	poly, err := Buffer(c, 10, 4)
	require.NoError(t, err)
	idx := buildIndex(t, IllinoisEastM, poly)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Join(ctx, []Point{c}, idx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCRSMember(t *testing.T) {
	member := CRSMember(IllinoisEastFt)
	c, err := CRSFromMember(member)
	require.NoError(t, err)
	assert.Equal(t, IllinoisEastFt, c)

	_, err = CRSFromMember(nil)
	require.ErrorIs(t, err, ErrMissingCRS)
	_, err = CRSFromMember("EPSG:3435")
	require.Error(t, err)
	_, err = CRSFromMember(map[string]any{"type": "name", "properties": map[string]any{}})
	require.Error(t, err)
}
