package spatial

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// Pair is one (point, polygon) containment hit, by position in the inputs.
type Pair struct {
	Point   int
	Polygon int
}

// minShard keeps small inputs on a single goroutine.
const minShard = 4096

// Join returns every (point, polygon) pair where the polygon contains the
// point. Points are split into contiguous shards queried in parallel; the
// result is ordered by point position, then polygon id, regardless of
// worker count.
func Join(ctx context.Context, points []Point, idx *Index, workers int) ([]Pair, error) {
	for i := range points {
		if err := RequireSame(idx.crs, points[i].CRS); err != nil {
			return nil, fmt.Errorf("join point %d: %w", i, err)
		}
	}
	if len(points) == 0 || idx.Len() == 0 {
		return nil, nil
	}

	if workers < 1 {
		workers = 1
	}
	shardSize := max((len(points)+workers-1)/workers, minShard)
	shards := (len(points) + shardSize - 1) / shardSize
	results := make([][]Pair, shards)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for s := range shards {
		lo := s * shardSize
		hi := min(lo+shardSize, len(points))
		g.Go(func() error {
			var buf []orb.Pointer
			var out []Pair
			for i := lo; i < hi; i++ {
				if i%1024 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}
				for _, id := range idx.containing(points[i].Coord, &buf) {
					out = append(out, Pair{Point: i, Polygon: id})
				}
			}
			results[s] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}

	var total int
	for _, r := range results {
		total += len(r)
	}
	pairs := make([]Pair, 0, total)
	for _, r := range results {
		pairs = append(pairs, r...)
	}
	return pairs, nil
}
