package spatial

import (
	"fmt"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"
)

// cell groups polygons sharing a bound centre, e.g. the buffers of one
// request at several radii. The quadtree stores one cell per centre.
type cell struct {
	center orb.Point
	ids    []int
}

func (c *cell) Point() orb.Point { return c.center }

// IndexBuilder collects polygons before the index is frozen.
type IndexBuilder struct {
	crs    CRS
	polys  []orb.Polygon
	bounds []orb.Bound
}

// NewIndexBuilder starts an index over polygons in crs, which must be projected.
func NewIndexBuilder(crs CRS) (*IndexBuilder, error) {
	if err := RequireProjected(crs); err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	return &IndexBuilder{crs: crs}, nil
}

// Insert adds a polygon and returns its id, which is its insertion position.
func (b *IndexBuilder) Insert(p Polygon) (int, error) {
	if err := RequireSame(b.crs, p.CRS); err != nil {
		return 0, fmt.Errorf("index insert: %w", err)
	}
	if len(p.Geom) == 0 || len(p.Geom[0]) == 0 {
		return 0, fmt.Errorf("index insert: empty polygon")
	}
	b.polys = append(b.polys, p.Geom)
	b.bounds = append(b.bounds, p.Geom.Bound())
	return len(b.polys) - 1, nil
}

// Build freezes the builder into a read-only Index safe for concurrent queries.
func (b *IndexBuilder) Build() (*Index, error) {
	idx := &Index{crs: b.crs, polys: b.polys, bounds: b.bounds}
	if len(b.polys) == 0 {
		return idx, nil
	}

	cells := make(map[orb.Point]*cell)
	order := make([]*cell, 0, len(b.polys))
	extent := b.bounds[0]
	for i, bound := range b.bounds {
		center := bound.Center()
		halfW := (bound.Max[0] - bound.Min[0]) / 2
		halfH := (bound.Max[1] - bound.Min[1]) / 2
		idx.pad = math.Max(idx.pad, math.Max(halfW, halfH))
		extent = extent.Union(bound)

		c, ok := cells[center]
		if !ok {
			c = &cell{center: center}
			cells[center] = c
			order = append(order, c)
		}
		c.ids = append(c.ids, i)
	}

	idx.tree = quadtree.New(extent)
	for _, c := range order {
		if err := idx.tree.Add(c); err != nil {
			return nil, fmt.Errorf("index build: %w", err)
		}
	}
	return idx, nil
}

// Index answers point-in-polygon queries. It prefilters candidates with a
// quadtree over polygon bound centres, then checks the bound and finally the
// exact ring. Containment is boundary-inclusive.
type Index struct {
	crs    CRS
	polys  []orb.Polygon
	bounds []orb.Bound
	tree   *quadtree.Quadtree
	pad    float64 // largest polygon half-extent
}

// CRS is the coordinate system every polygon and query point must use.
func (idx *Index) CRS() CRS { return idx.crs }

// Len is the number of indexed polygons.
func (idx *Index) Len() int { return len(idx.polys) }

// Containing returns ids of every polygon containing p, in ascending order.
func (idx *Index) Containing(p Point) ([]int, error) {
	if err := RequireSame(idx.crs, p.CRS); err != nil {
		return nil, fmt.Errorf("index query: %w", err)
	}
	var buf []orb.Pointer
	return idx.containing(p.Coord, &buf), nil
}

// containing reuses *buf for quadtree candidates across calls.
func (idx *Index) containing(pt orb.Point, buf *[]orb.Pointer) []int {
	if idx.tree == nil {
		return nil
	}

	// A polygon containing pt has its bound centre within pad of pt on each axis.
	search := orb.Bound{Min: pt, Max: pt}.Pad(idx.pad)
	var ids []int
	*buf = idx.tree.InBound((*buf)[:0], search)
	for _, ptr := range *buf {
		for _, id := range ptr.(*cell).ids {
			if !idx.bounds[id].Contains(pt) {
				continue
			}
			if planar.PolygonContains(idx.polys[id], pt) {
				ids = append(ids, id)
			}
		}
	}
	slices.Sort(ids)
	return ids
}
