package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/streetlight-crime-etl/internal/config"
	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
	"github.com/couchcryptid/streetlight-crime-etl/internal/observability"
	"github.com/paulmach/orb/geojson"
	kafkago "github.com/segmentio/kafka-go"
)

// batchSize bounds a single WriteMessages call.
const batchSize = 500

// Writer publishes one message per output row to the sink topic.
// It implements pipeline.Sink.
type Writer struct {
	writer  *kafkago.Writer
	runID   string
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic. runID is
// stamped on every message header.
func NewWriter(cfg *config.Config, runID string, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, runID: runID, metrics: metrics, logger: logger}
}

// Name identifies the sink in logs.
func (w *Writer) Name() string { return "kafka" }

// Write serializes every row of res and publishes them in batches. Rows with
// the same crime, request, and radius hash to the same partition.
func (w *Writer) Write(ctx context.Context, res domain.Result) error {
	processedAt := domain.Now()
	msgs := make([]kafkago.Message, 0, min(len(res.Rows), batchSize))
	flush := func() error {
		if len(msgs) == 0 {
			return nil
		}
		if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish %s rows: %w", res.Mode, err)
		}
		w.metrics.EventsPublished.Add(float64(len(msgs)))
		msgs = msgs[:0]
		return nil
	}

	for _, row := range res.Rows {
		msg, err := serializeToMessage(res, row, w.runID, processedAt)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
		if len(msgs) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	w.logger.Info("match events published", "mode", res.Mode, "rows", len(res.Rows), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage encodes a row as a GeoJSON Feature keyed by its
// crime|request|radius triple.
func serializeToMessage(res domain.Result, row domain.Row, runID string, processedAt time.Time) (kafkago.Message, error) {
	f := geojson.NewFeature(row.Geometry.Coord)
	f.ID = row.Key
	for _, field := range row.Fields {
		f.Properties[field.Name] = field.Value
	}
	data, err := json.Marshal(f)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize row %s: %w", row.Key, err)
	}
	return kafkago.Message{
		Key:   []byte(row.Key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "mode", Value: []byte(res.Mode)},
			{Key: "run_id", Value: []byte(runID)},
			{Key: "crs", Value: []byte(res.CRS.String())},
			{Key: "processed_at", Value: []byte(processedAt.Format(time.RFC3339))},
		},
	}, nil
}
