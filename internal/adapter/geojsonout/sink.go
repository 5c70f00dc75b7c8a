// Package geojsonout writes join results as GeoJSON FeatureCollections.
package geojsonout

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/couchcryptid/streetlight-crime-etl/internal/atomicfile"
	"github.com/couchcryptid/streetlight-crime-etl/internal/config"
	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
	"github.com/couchcryptid/streetlight-crime-etl/internal/spatial"
	"github.com/paulmach/orb/geojson"
)

const ctxCheckEvery = 4096

// FileSink writes each mode's result to its own file.
// It implements pipeline.BatchSink.
type FileSink struct {
	paths  map[domain.Mode]string
	logger *slog.Logger
}

// NewFileSink maps the window and bucket modes to their configured outputs.
func NewFileSink(cfg *config.Config, logger *slog.Logger) *FileSink {
	return &FileSink{
		paths: map[domain.Mode]string{
			domain.ModeWindow:  cfg.WindowOutput,
			domain.ModeBuckets: cfg.BucketOutput,
		},
		logger: logger,
	}
}

// Name identifies the sink in logs.
func (s *FileSink) Name() string { return "geojson" }

// Write replaces the mode's output file atomically; a failed write leaves
// any previous file in place and no partial file behind.
func (s *FileSink) Write(ctx context.Context, res domain.Result) error {
	return s.WriteAll(ctx, []domain.Result{res})
}

// WriteAll encodes every result to a temporary file before renaming any of
// them, so the mode outputs on disk always come from the same run.
func (s *FileSink) WriteAll(ctx context.Context, results []domain.Result) error {
	paths := make([]string, len(results))
	for i, res := range results {
		path, ok := s.paths[res.Mode]
		if !ok || path == "" {
			return fmt.Errorf("no output path for mode %q", res.Mode)
		}
		paths[i] = path
	}
	err := atomicfile.WriteAll(paths, func(i int, w io.Writer) error {
		if err := Encode(ctx, w, results[i]); err != nil {
			return fmt.Errorf("write %s output: %w", results[i].Mode, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i, res := range results {
		s.logger.Info("output written", "mode", res.Mode, "path", paths[i], "rows", len(res.Rows), "crs", res.CRS)
	}
	return nil
}

// Encode streams res as a FeatureCollection with a top-level crs member.
// Properties keep the row's column order.
func Encode(ctx context.Context, w io.Writer, res domain.Result) error {
	bw := bufio.NewWriter(w)

	crs, err := json.Marshal(spatial.CRSMember(res.CRS))
	if err != nil {
		return fmt.Errorf("encode crs: %w", err)
	}
	fmt.Fprintf(bw, `{"type":"FeatureCollection","crs":%s,"features":[`, crs)

	var buf bytes.Buffer
	for i, row := range res.Rows {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := spatial.RequireSame(res.CRS, row.Geometry.CRS); err != nil {
			return fmt.Errorf("row %s: %w", row.Key, err)
		}

		buf.Reset()
		if err := encodeFeature(&buf, row); err != nil {
			return fmt.Errorf("row %s: %w", row.Key, err)
		}
		if i > 0 {
			bw.WriteByte(',')
		}
		bw.WriteByte('\n')
		bw.Write(buf.Bytes())
	}

	bw.WriteString("\n]}\n")
	return bw.Flush()
}

func encodeFeature(buf *bytes.Buffer, row domain.Row) error {
	geom, err := json.Marshal(geojson.NewGeometry(row.Geometry.Coord))
	if err != nil {
		return fmt.Errorf("encode geometry: %w", err)
	}
	buf.WriteString(`{"type":"Feature","geometry":`)
	buf.Write(geom)
	buf.WriteString(`,"properties":{`)
	for i, f := range row.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return err
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", f.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteString("}}")
	return nil
}

// Decoded is a result file read back from disk.
type Decoded struct {
	CRS        spatial.CRS
	Collection *geojson.FeatureCollection
}

// Decode reads a FeatureCollection written by Encode. A missing or unknown
// crs member is an error.
func Decode(r io.Reader) (*Decoded, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	crs, err := spatial.CRSFromMember(fc.ExtraMembers["crs"])
	if err != nil {
		return nil, err
	}
	return &Decoded{CRS: crs, Collection: fc}, nil
}
