// Package pipeline runs one spatiotemporal join: it loads crimes and request
// buffers, joins them spatially, applies each temporal mode, and hands the
// results to the sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/streetlight-crime-etl/internal/buffers"
	"github.com/couchcryptid/streetlight-crime-etl/internal/config"
	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
	"github.com/couchcryptid/streetlight-crime-etl/internal/observability"
	"github.com/couchcryptid/streetlight-crime-etl/internal/spatial"
	"golang.org/x/sync/errgroup"
)

// Sink receives the materialized result of one mode.
type Sink interface {
	Name() string
	Write(ctx context.Context, res domain.Result) error
}

// BatchSink is a Sink that can publish every mode's result together, so a
// failure on one mode leaves the others as they were.
type BatchSink interface {
	Sink
	WriteAll(ctx context.Context, results []domain.Result) error
}

// Summary describes a finished run. Error is set when the run failed.
type Summary struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Crimes  int `json:"crimes"` // crimes that survived cleaning
	Buffers int `json:"buffers"`
	Matches int `json:"matches"` // spatial (crime, buffer) pairs

	// Bucket mode only: matches surviving the coarse day-gap filter and the
	// exact interval check.
	CoarseCandidates int `json:"coarse_candidates"`
	ExactMatches     int `json:"exact_matches"`

	Dropped map[string]domain.DropCounts `json:"dropped"` // by source
	Rows    map[domain.Mode]int          `json:"rows"`
	Error   string                       `json:"error,omitempty"`
}

// Pipeline orchestrates a single batch run.
type Pipeline struct {
	crimes  TableSource
	buffers BufferSource
	sinks   []Sink
	modes   []domain.Mode
	buckets domain.BucketRange
	workers int
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
	last    atomic.Pointer[Summary]
}

// New creates a Pipeline reading crimes and buffers from the given sources.
func New(crimes TableSource, bufs BufferSource, sinks []Sink, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		crimes:  crimes,
		buffers: bufs,
		sinks:   sinks,
		modes:   cfg.JoinModes,
		buckets: cfg.Buckets(),
		workers: cfg.JoinWorkers,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once a run has completed successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// LastRun returns the summary of the most recent finished run, if any.
func (p *Pipeline) LastRun() (Summary, bool) {
	s := p.last.Load()
	if s == nil {
		return Summary{}, false
	}
	return *s, true
}

// Run executes every stage, then writes each mode's result to every sink.
// Nothing is written unless all stages succeed. A BatchSink receives all
// modes in one call; other sinks get one Write per mode, and a failure part
// way through can leave earlier modes written by this run.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		StartedAt: domain.Now(),
		Dropped:   make(map[string]domain.DropCounts),
		Rows:      make(map[domain.Mode]int),
	}
	p.logger.Info("pipeline started", "modes", p.modes, "workers", p.workers)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	err := p.run(ctx, &summary)
	summary.FinishedAt = domain.Now()
	if err != nil {
		summary.Error = err.Error()
		p.last.Store(&summary)
		p.metrics.LastRunSuccess.Set(0)
		return summary, err
	}

	p.metrics.LastRunSuccess.Set(1)
	p.last.Store(&summary)
	p.ready.Store(true)
	p.logger.Info("pipeline finished",
		"crimes", summary.Crimes,
		"buffers", summary.Buffers,
		"matches", summary.Matches,
		"window_rows", summary.Rows[domain.ModeWindow],
		"bucket_rows", summary.Rows[domain.ModeBuckets],
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
	)
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, summary *Summary) error {
	if len(p.modes) == 0 {
		return errors.New("no join modes configured")
	}
	if err := p.buckets.Validate(); err != nil {
		return err
	}

	table, col, err := p.load(ctx)
	if err != nil {
		return err
	}
	summary.Dropped["buffers"] = col.Drops
	summary.Buffers = len(col.Buffers)

	crimes, drops, err := p.parseCrimes(table, col.CRS)
	if err != nil {
		return err
	}
	summary.Dropped["crimes"] = drops
	summary.Crimes = len(crimes)

	matches, err := p.join(ctx, crimes, col)
	if err != nil {
		return err
	}
	summary.Matches = len(matches)

	results := make([]domain.Result, 0, len(p.modes))
	for _, mode := range p.modes {
		switch mode {
		case domain.ModeWindow:
			results = append(results, p.window(matches, col.CRS))
		case domain.ModeBuckets:
			res, coarse, exact := p.bucket(matches, col.CRS)
			summary.CoarseCandidates, summary.ExactMatches = coarse, exact
			results = append(results, res)
		default:
			return fmt.Errorf("unknown join mode %q", mode)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.write(ctx, results); err != nil {
		return err
	}
	for _, res := range results {
		summary.Rows[res.Mode] = len(res.Rows)
	}
	return nil
}

// load fetches crimes and buffers concurrently. Either failure cancels the other.
func (p *Pipeline) load(ctx context.Context) (domain.Table, *buffers.Collection, error) {
	var (
		table domain.Table
		col   *buffers.Collection
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer p.timeStage("load_crimes")()
		t, err := p.crimes.Load(gctx)
		if err != nil {
			return fmt.Errorf("load crimes: %w", err)
		}
		table = t
		return nil
	})
	g.Go(func() error {
		defer p.timeStage("load_buffers")()
		c, err := p.buffers.Buffers(gctx)
		if err != nil {
			return fmt.Errorf("load buffers: %w", err)
		}
		col = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Table{}, nil, err
	}
	if err := spatial.RequireProjected(col.CRS); err != nil {
		return domain.Table{}, nil, fmt.Errorf("buffers: %w", err)
	}
	return table, col, nil
}

// parseCrimes cleans the crime table and reprojects every crime into crs.
func (p *Pipeline) parseCrimes(table domain.Table, crs spatial.CRS) ([]domain.CrimePoint, domain.DropCounts, error) {
	defer p.timeStage("parse_crimes")()
	if err := domain.RequireColumns(table, "crime", domain.CrimeRequiredColumns...); err != nil {
		return nil, nil, err
	}

	drops := domain.DropCounts{}
	crimes := make([]domain.CrimePoint, 0, len(table.Rows))
	for _, rec := range table.Rows {
		c, err := domain.ParseCrime(rec)
		if drops.Record(err) {
			p.logger.Debug("crime dropped", "error", err)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if c, err = c.Reproject(crs); err != nil {
			return nil, nil, err
		}
		crimes = append(crimes, c)
	}
	recordDrops(p.metrics, p.logger, "crimes", drops)
	return crimes, drops, nil
}

// join indexes the buffers and pairs every crime with each buffer containing it.
func (p *Pipeline) join(ctx context.Context, crimes []domain.CrimePoint, col *buffers.Collection) ([]domain.Match, error) {
	defer p.timeStage("spatial_join")()

	builder, err := spatial.NewIndexBuilder(col.CRS)
	if err != nil {
		return nil, err
	}
	for i := range col.Buffers {
		if _, err := builder.Insert(col.Buffers[i].Polygon); err != nil {
			return nil, fmt.Errorf("buffer %s at %gm: %w", col.Buffers[i].Request.RequestID, col.Buffers[i].RadiusM, err)
		}
	}
	idx, err := builder.Build()
	if err != nil {
		return nil, err
	}

	points := make([]spatial.Point, len(crimes))
	for i := range crimes {
		points[i] = crimes[i].Location
	}
	pairs, err := spatial.Join(ctx, points, idx, p.workers)
	if err != nil {
		return nil, err
	}

	// Polygon ids are insertion positions, so they index col.Buffers.
	matches := make([]domain.Match, len(pairs))
	for i, pair := range pairs {
		matches[i] = domain.Match{Crime: &crimes[pair.Point], Buffer: &col.Buffers[pair.Polygon]}
	}
	p.metrics.SpatialMatches.Add(float64(len(matches)))
	p.logger.Info("spatial join complete", "crimes", len(crimes), "buffers", idx.Len(), "matches", len(matches))
	return matches, nil
}

func (p *Pipeline) window(matches []domain.Match, crs spatial.CRS) domain.Result {
	defer p.timeStage("window")()
	return domain.ProjectWindow(domain.FilterServiceWindow(matches), crs)
}

// bucket runs the coarse day-gap filter, then exact interval assignment.
func (p *Pipeline) bucket(matches []domain.Match, crs spatial.CRS) (domain.Result, int, int) {
	defer p.timeStage("buckets")()
	coarse := domain.CoarseBucketFilter(matches, p.buckets)
	exact := domain.ExactBuckets(coarse, p.buckets)

	p.metrics.BucketCandidates.WithLabelValues("coarse").Add(float64(len(coarse)))
	p.metrics.BucketCandidates.WithLabelValues("exact").Add(float64(len(exact)))
	for _, m := range exact {
		p.metrics.BucketRows.WithLabelValues(strconv.Itoa(m.Bucket.Index)).Inc()
	}
	p.logger.Info("bucket filter complete", "coarse", len(coarse), "exact", len(exact),
		"min_days", p.buckets.Min, "max_days", p.buckets.Max)
	return domain.ProjectBuckets(exact, crs), len(coarse), len(exact)
}

func (p *Pipeline) write(ctx context.Context, results []domain.Result) error {
	defer p.timeStage("write")()
	for _, s := range p.sinks {
		if bs, ok := s.(BatchSink); ok {
			if err := bs.WriteAll(ctx, results); err != nil {
				return fmt.Errorf("write results to %s: %w", s.Name(), err)
			}
		} else {
			for _, res := range results {
				if err := s.Write(ctx, res); err != nil {
					return fmt.Errorf("write %s result to %s: %w", res.Mode, s.Name(), err)
				}
			}
		}
		for _, res := range results {
			p.logger.Info("result written", "mode", res.Mode, "sink", s.Name(), "rows", len(res.Rows))
		}
	}
	for _, res := range results {
		p.metrics.RowsWritten.WithLabelValues(string(res.Mode)).Add(float64(len(res.Rows)))
	}
	return nil
}

// timeStage starts a stage timer; call the returned func when the stage ends.
func (p *Pipeline) timeStage(stage string) func() {
	start := domain.Clock().Now()
	return func() {
		p.metrics.StageDuration.WithLabelValues(stage).Observe(domain.Clock().Since(start).Seconds())
	}
}
