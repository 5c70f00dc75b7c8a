package spatial

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// GRS80 ellipsoid, used by NAD83.
const (
	grs80A = 6378137.0
	grs80F = 1 / 298.257222101
)

// transverseMercator holds the parameters of a Transverse Mercator projection
// in metres. Unit conversion to the CRS's linear unit happens in Reproject.
type transverseMercator struct {
	lat0, lon0 float64 // degrees
	k0         float64
	fe, fn     float64 // metres
}

var (
	tmE2  = 2*grs80F - grs80F*grs80F
	tmEp2 = tmE2 / (1 - tmE2)
)

// meridianArc is the distance along the meridian from the equator to phi (radians).
func meridianArc(phi float64) float64 {
	e2 := tmE2
	e4 := e2 * e2
	e6 := e4 * e2
	return grs80A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

// forward maps lon/lat degrees to easting/northing metres (Snyder 8-9..8-15).
func (p *transverseMercator) forward(lon, lat float64) (float64, float64) {
	phi := lat * math.Pi / 180
	lam := lon * math.Pi / 180
	lam0 := p.lon0 * math.Pi / 180

	sinPhi, cosPhi := math.Sincos(phi)
	tanPhi := math.Tan(phi)

	n := grs80A / math.Sqrt(1-tmE2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := tmEp2 * cosPhi * cosPhi
	a := (lam - lam0) * cosPhi
	m := meridianArc(phi)
	m0 := meridianArc(p.lat0 * math.Pi / 180)

	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	a6 := a5 * a

	x := p.k0 * n * (a + (1-t+c)*a3/6 + (5-18*t+t*t+72*c-58*tmEp2)*a5/120)
	y := p.k0 * (m - m0 + n*tanPhi*(a2/2+(5-t+9*c+4*c*c)*a4/24+(61-58*t+t*t+600*c-330*tmEp2)*a6/720))
	return x + p.fe, y + p.fn
}

// inverse maps easting/northing metres back to lon/lat degrees (Snyder 8-17..8-25).
func (p *transverseMercator) inverse(x, y float64) (float64, float64) {
	x -= p.fe
	y -= p.fn
	e2 := tmE2
	e4 := e2 * e2
	e6 := e4 * e2

	m := meridianArc(p.lat0*math.Pi/180) + y/p.k0
	mu := m / (grs80A * (1 - e2/4 - 3*e4/64 - 5*e6/256))
	sq := math.Sqrt(1 - e2)
	e1 := (1 - sq) / (1 + sq)

	phi1 := mu +
		(3*e1/2-27*e1*e1*e1/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*e1*e1*e1*e1/32)*math.Sin(4*mu) +
		(151*e1*e1*e1/96)*math.Sin(6*mu) +
		(1097*e1*e1*e1*e1/512)*math.Sin(8*mu)

	sin1, cos1 := math.Sincos(phi1)
	tan1 := math.Tan(phi1)
	c1 := tmEp2 * cos1 * cos1
	t1 := tan1 * tan1
	denom := 1 - e2*sin1*sin1
	n1 := grs80A / math.Sqrt(denom)
	r1 := grs80A * (1 - e2) / math.Pow(denom, 1.5)
	d := x / (n1 * p.k0)

	d2 := d * d
	d3 := d2 * d
	d4 := d3 * d
	d5 := d4 * d
	d6 := d5 * d

	phi := phi1 - (n1*tan1/r1)*(d2/2-
		(5+3*t1+10*c1-4*c1*c1-9*tmEp2)*d4/24+
		(61+90*t1+298*c1+45*t1*t1-252*tmEp2-3*c1*c1)*d6/720)
	lam := p.lon0*math.Pi/180 +
		(d-(1+2*t1+c1)*d3/6+(5-2*c1+28*t1-3*c1*c1+8*tmEp2+24*t1*t1)*d5/120)/cos1

	return lam * 180 / math.Pi, phi * 180 / math.Pi
}

// Reproject converts p into the target CRS. Only geographic <-> projected and
// projected <-> projected conversions through registered definitions are
// supported; reprojecting into the same CRS returns p unchanged.
func Reproject(p Point, to CRS) (Point, error) {
	if !p.CRS.Valid() {
		return Point{}, fmt.Errorf("reproject from %s: %w", p.CRS, ErrUnknownCRS)
	}
	if !to.Valid() {
		return Point{}, fmt.Errorf("reproject to %s: %w", to, ErrUnknownCRS)
	}
	if p.CRS == to {
		return p, nil
	}

	lon, lat := p.Coord[0], p.Coord[1]
	if from := registry[p.CRS]; from.projected {
		lon, lat = from.tm.inverse(p.Coord[0]/from.unitsPerMeter, p.Coord[1]/from.unitsPerMeter)
	}
	if to == WGS84 {
		return Point{Coord: orb.Point{lon, lat}, CRS: WGS84}, nil
	}

	target := registry[to]
	x, y := target.tm.forward(lon, lat)
	return Point{Coord: orb.Point{x * target.unitsPerMeter, y * target.unitsPerMeter}, CRS: to}, nil
}
