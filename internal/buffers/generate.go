// Package buffers builds the circular service-request buffers that the
// spatial join tests crimes against, and reads and writes them as GeoJSON.
package buffers

import (
	"errors"
	"fmt"
	"slices"

	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
	"github.com/couchcryptid/streetlight-crime-etl/internal/spatial"
)

// ErrNoRadii is returned when a generator is asked for zero radii.
var ErrNoRadii = errors.New("no buffer radii configured")

// Generator produces one buffer polygon per (request, radius).
type Generator struct {
	quadSegments int
}

// NewGenerator creates a Generator. quadSegments below one selects
// spatial.DefaultQuadSegments.
func NewGenerator(quadSegments int) *Generator {
	if quadSegments < 1 {
		quadSegments = spatial.DefaultQuadSegments
	}
	return &Generator{quadSegments: quadSegments}
}

// ValidateRadii rejects empty, non-positive, and duplicate radii.
func ValidateRadii(radii []float64) error {
	if len(radii) == 0 {
		return ErrNoRadii
	}
	for i, r := range radii {
		if r <= 0 {
			return fmt.Errorf("buffer radius %g: must be positive", r)
		}
		if slices.Contains(radii[:i], r) {
			return fmt.Errorf("buffer radius %g: duplicate", r)
		}
	}
	return nil
}

// Generate buffers every request at every radius, request-major. Requests
// must already share one projected CRS; the generator never reprojects.
func (g *Generator) Generate(requests []domain.StreetlightRequest, radii []float64) ([]domain.Buffer, error) {
	if err := ValidateRadii(radii); err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, nil
	}

	crs := requests[0].Location.CRS
	if err := spatial.RequireProjected(crs); err != nil {
		return nil, fmt.Errorf("generate buffers: %w", err)
	}

	out := make([]domain.Buffer, 0, len(requests)*len(radii))
	for i := range requests {
		req := &requests[i]
		if err := spatial.RequireSame(crs, req.Location.CRS); err != nil {
			return nil, fmt.Errorf("request %s: %w", req.RequestID, err)
		}
		for _, r := range radii {
			poly, err := spatial.Buffer(req.Location, r, g.quadSegments)
			if err != nil {
				return nil, fmt.Errorf("request %s: %w", req.RequestID, err)
			}
			out = append(out, domain.Buffer{Request: req, RadiusM: r, Polygon: poly})
		}
	}
	return out, nil
}
