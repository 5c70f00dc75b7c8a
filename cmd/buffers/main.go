// Command buffers turns the streetlight request feed into a buffers GeoJSON
// file in TARGET_CRS, one polygon per request and radius. The etl command
// reads the file back through BUFFERS_FILE.
//
// Usage:
//
//	go run ./cmd/buffers -out data/buffers.geojson
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/streetlight-crime-etl/internal/adapter/csvfeed"
	"github.com/couchcryptid/streetlight-crime-etl/internal/adapter/socrata"
	"github.com/couchcryptid/streetlight-crime-etl/internal/atomicfile"
	"github.com/couchcryptid/streetlight-crime-etl/internal/buffers"
	"github.com/couchcryptid/streetlight-crime-etl/internal/config"
	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
	"github.com/couchcryptid/streetlight-crime-etl/internal/observability"
	"github.com/couchcryptid/streetlight-crime-etl/internal/pipeline"
)

func main() {
	out := flag.String("out", "", "output GeoJSON path (defaults to BUFFERS_FILE)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *out, logger); err != nil {
		logger.Error("buffer generation failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, out string, logger *slog.Logger) error {
	if out == "" {
		out = cfg.BuffersFile
	}
	if out == "" {
		return fmt.Errorf("no output path: pass -out or set BUFFERS_FILE")
	}

	metrics := observability.NewMetrics()
	var requests pipeline.TableSource
	if cfg.StreetlightCSV != "" {
		requests = csvfeed.File(cfg.StreetlightCSV)
	} else {
		client := socrata.NewClient(cfg, domain.Clock(), metrics, logger)
		requests = socrata.Source{Client: client, Query: socrata.StreetlightQuery(cfg)}
	}

	col, err := pipeline.NewRequestBuffers(requests, cfg, metrics, logger).Buffers(ctx)
	if err != nil {
		return err
	}
	err = atomicfile.Write(out, func(w io.Writer) error {
		return buffers.WriteGeoJSON(w, col.CRS, col.Buffers)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	logger.Info("buffers written", "path", out, "buffers", len(col.Buffers), "crs", col.CRS, "dropped", col.Drops.Total())
	return nil
}
