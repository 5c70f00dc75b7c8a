// Command pull downloads one Socrata dataset into a CSV cache that the etl
// and buffers commands can read instead of the live API.
//
// Usage:
//
//	go run ./cmd/pull -dataset crimes -out data/crimes.csv
//	go run ./cmd/pull -dataset streetlights
//
// Without -out, the path comes from CRIME_CSV or STREETLIGHT_CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/streetlight-crime-etl/internal/adapter/csvfeed"
	"github.com/couchcryptid/streetlight-crime-etl/internal/adapter/socrata"
	"github.com/couchcryptid/streetlight-crime-etl/internal/config"
	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
	"github.com/couchcryptid/streetlight-crime-etl/internal/observability"
)

func main() {
	dataset := flag.String("dataset", "", "dataset to pull: crimes or streetlights")
	out := flag.String("out", "", "output CSV path (defaults to CRIME_CSV or STREETLIGHT_CSV)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *dataset, *out, logger); err != nil {
		logger.Error("pull failed", "dataset", *dataset, "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, dataset, out string, logger *slog.Logger) error {
	var q socrata.Query
	switch dataset {
	case "crimes":
		q = socrata.CrimeQuery(cfg)
		if out == "" {
			out = cfg.CrimeCSV
		}
	case "streetlights":
		q = socrata.StreetlightQuery(cfg)
		if out == "" {
			out = cfg.StreetlightCSV
		}
	default:
		flag.Usage()
		return fmt.Errorf("unknown dataset %q: want crimes or streetlights", dataset)
	}
	if out == "" {
		return fmt.Errorf("no output path: pass -out or set the %s cache variable", dataset)
	}

	client := socrata.NewClient(cfg, domain.Clock(), observability.NewMetrics(), logger)
	table, err := client.Fetch(ctx, q)
	if err != nil {
		return err
	}
	if err := csvfeed.WriteFile(out, table); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	logger.Info("dataset cached", "dataset", q.Dataset, "path", out, "rows", len(table.Rows), "columns", len(table.Columns))
	return nil
}
