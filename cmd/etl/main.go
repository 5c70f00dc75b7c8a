// Command etl runs one streetlight-outage and crime join: it loads both feeds
// (cached CSVs or Socrata), buffers the requests, joins, applies every
// configured mode, and writes GeoJSON plus optional Kafka events.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/streetlight-crime-etl/internal/adapter/csvfeed"
	"github.com/couchcryptid/streetlight-crime-etl/internal/adapter/geojsonout"
	"github.com/couchcryptid/streetlight-crime-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/streetlight-crime-etl/internal/adapter/kafka"
	"github.com/couchcryptid/streetlight-crime-etl/internal/adapter/socrata"
	"github.com/couchcryptid/streetlight-crime-etl/internal/config"
	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
	"github.com/couchcryptid/streetlight-crime-etl/internal/observability"
	"github.com/couchcryptid/streetlight-crime-etl/internal/pipeline"
	"github.com/google/uuid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	runID := uuid.NewString()
	logger := observability.NewLogger(cfg).With("run_id", runID)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, runID, metrics, logger); err != nil {
		logger.Error("run failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, runID string, metrics *observability.Metrics, logger *slog.Logger) error {
	client := socrata.NewClient(cfg, domain.Clock(), metrics, logger)
	crimes := feed(cfg.CrimeCSV, client, socrata.CrimeQuery(cfg), logger)

	var bufs pipeline.BufferSource
	if cfg.BuffersFile != "" {
		bufs = pipeline.NewFileBuffers(cfg, metrics, logger)
	} else {
		requests := feed(cfg.StreetlightCSV, client, socrata.StreetlightQuery(cfg), logger)
		bufs = pipeline.NewRequestBuffers(requests, cfg, metrics, logger)
	}

	sinks := []pipeline.Sink{geojsonout.NewFileSink(cfg, logger)}
	if cfg.KafkaEnabled() {
		writer := kafkaadapter.NewWriter(cfg, runID, metrics, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		sinks = append(sinks, writer)
		logger.Info("kafka sink enabled", "topic", cfg.KafkaSinkTopic, "brokers", cfg.KafkaBrokers)
	}

	p := pipeline.New(crimes, bufs, sinks, cfg, metrics, logger)

	// The observability server lives for the duration of the run.
	if cfg.HTTPAddr != "" {
		srvCtx, stopServer := context.WithCancel(context.Background())
		srvDone := make(chan struct{})
		srv := httpadapter.NewServer(cfg.HTTPAddr, p, nil, logger)
		go func() {
			defer close(srvDone)
			if err := srv.ListenAndServe(srvCtx, cfg.ShutdownTimeout); err != nil {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			stopServer()
			<-srvDone
		}()
	}

	summary, err := p.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("run interrupted")
		}
		return err
	}
	logger.Info("run complete", "window_rows", summary.Rows[domain.ModeWindow], "bucket_rows", summary.Rows[domain.ModeBuckets])
	return nil
}

// feed prefers a cached CSV over the Socrata dataset.
func feed(path string, client *socrata.Client, q socrata.Query, logger *slog.Logger) pipeline.TableSource {
	if path != "" {
		logger.Info("using cached feed", "dataset", q.Dataset, "path", path)
		return csvfeed.File(path)
	}
	return socrata.Source{Client: client, Query: q}
}
