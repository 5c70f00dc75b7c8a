package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/couchcryptid/streetlight-crime-etl/internal/buffers"
	"github.com/couchcryptid/streetlight-crime-etl/internal/config"
	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
	"github.com/couchcryptid/streetlight-crime-etl/internal/observability"
	"github.com/couchcryptid/streetlight-crime-etl/internal/spatial"
)

// TableSource loads a whole feed table.
type TableSource interface {
	Load(ctx context.Context) (domain.Table, error)
}

// TableSourceFunc adapts a function to TableSource.
type TableSourceFunc func(ctx context.Context) (domain.Table, error)

// Load calls f.
func (f TableSourceFunc) Load(ctx context.Context) (domain.Table, error) { return f(ctx) }

// BufferSource provides the request buffers for a run. Every buffer in the
// returned collection is in Collection.CRS.
type BufferSource interface {
	Buffers(ctx context.Context) (*buffers.Collection, error)
}

// RequestBuffers builds buffers from a streetlight request table.
type RequestBuffers struct {
	src       TableSource
	radii     []float64
	crs       spatial.CRS
	generator *buffers.Generator
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewRequestBuffers generates cfg.BufferRadii buffers in cfg.TargetCRS around
// every usable request loaded from src.
func NewRequestBuffers(src TableSource, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *RequestBuffers {
	return &RequestBuffers{
		src:       src,
		radii:     cfg.BufferRadii,
		crs:       cfg.TargetCRS,
		generator: buffers.NewGenerator(cfg.QuadSegments),
		metrics:   metrics,
		logger:    logger,
	}
}

// Buffers loads, cleans, and reprojects the requests, then buffers them.
// Requests repeating an earlier service_request_number are dropped.
func (r *RequestBuffers) Buffers(ctx context.Context) (*buffers.Collection, error) {
	if err := buffers.ValidateRadii(r.radii); err != nil {
		return nil, err
	}
	table, err := r.src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	domain.CanonicalizeRequestColumns(&table)
	if err := domain.RequireColumns(table, "streetlight", domain.RequestRequiredColumns...); err != nil {
		return nil, err
	}

	drops := domain.DropCounts{}
	seen := make(map[string]bool, len(table.Rows))
	requests := make([]domain.StreetlightRequest, 0, len(table.Rows))
	for _, rec := range table.Rows {
		req, err := domain.ParseRequest(rec)
		if drops.Record(err) {
			r.logger.Debug("request dropped", "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if seen[req.RequestID] {
			drops[domain.DropDuplicate]++
			r.logger.Debug("request dropped", "reason", domain.DropDuplicate, "request_id", req.RequestID)
			continue
		}
		seen[req.RequestID] = true

		if req.Location, err = spatial.Reproject(req.Location, r.crs); err != nil {
			return nil, fmt.Errorf("request %s: %w", req.RequestID, err)
		}
		requests = append(requests, req)
	}
	recordDrops(r.metrics, r.logger, "requests", drops)

	bufs, err := r.generator.Generate(requests, r.radii)
	if err != nil {
		return nil, err
	}
	r.metrics.BuffersGenerated.Add(float64(len(bufs)))
	r.logger.Info("buffers generated", "requests", len(requests), "radii", r.radii, "buffers", len(bufs))
	return &buffers.Collection{CRS: r.crs, Buffers: bufs, Drops: drops}, nil
}

// FileBuffers reads buffers from a GeoJSON file written by the buffers
// command. A file in a CRS other than the target is rejected.
type FileBuffers struct {
	path    string
	crs     spatial.CRS
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewFileBuffers reads cfg.BuffersFile and expects cfg.TargetCRS.
func NewFileBuffers(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *FileBuffers {
	return &FileBuffers{path: cfg.BuffersFile, crs: cfg.TargetCRS, metrics: metrics, logger: logger}
}

// Buffers reads and validates the file.
func (f *FileBuffers) Buffers(ctx context.Context) (*buffers.Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open buffers file: %w", err)
	}
	defer file.Close()

	col, err := buffers.ReadGeoJSON(file, f.crs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	recordDrops(f.metrics, f.logger, "buffers", col.Drops)
	f.metrics.BuffersGenerated.Add(float64(len(col.Buffers)))
	f.logger.Info("buffers loaded", "path", f.path, "buffers", len(col.Buffers))
	return col, nil
}

// recordDrops exports drop counts and logs them at Info.
func recordDrops(metrics *observability.Metrics, logger *slog.Logger, source string, drops domain.DropCounts) {
	if drops.Total() == 0 {
		return
	}
	attrs := []any{"source", source, "total", drops.Total()}
	for _, reason := range slices.Sorted(maps.Keys(drops)) {
		n := drops[reason]
		metrics.RecordsDropped.WithLabelValues(source, string(reason)).Add(float64(n))
		attrs = append(attrs, string(reason), n)
	}
	logger.Info("records dropped", attrs...)
}
