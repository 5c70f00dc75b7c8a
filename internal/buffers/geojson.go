package buffers

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
	"github.com/couchcryptid/streetlight-crime-etl/internal/spatial"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ColGeometry names the geometry column in error messages.
const ColGeometry = "geometry"

// RequiredProperties must be present on a buffers FeatureCollection.
var RequiredProperties = []string{domain.ColServiceRequestNumber, domain.ColCreationDate, domain.ColBufferRadius}

// Collection is a decoded buffers file.
type Collection struct {
	CRS     spatial.CRS
	Buffers []domain.Buffer
	Drops   domain.DropCounts
}

// ReadGeoJSON decodes a buffers FeatureCollection. The document's crs member
// must name target; a missing or different CRS is fatal, as is a missing
// required property column. Features without a usable creation date,
// radius, or polygon are dropped and counted.
func ReadGeoJSON(r io.Reader, target spatial.CRS) (*Collection, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read buffers: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode buffers: %w", err)
	}

	crs, err := spatial.CRSFromMember(fc.ExtraMembers["crs"])
	if err != nil {
		return nil, fmt.Errorf("buffers: %w", err)
	}
	if err := spatial.RequireSame(target, crs); err != nil {
		return nil, fmt.Errorf("buffers: %w", err)
	}

	col := &Collection{CRS: crs, Drops: domain.DropCounts{}}
	if len(fc.Features) == 0 {
		return col, nil
	}

	table, geoms := featureTable(fc.Features)
	if !slices.ContainsFunc(geoms, func(g orb.Geometry) bool { return g != nil }) {
		return nil, fmt.Errorf("buffers table: %w: %s", domain.ErrMissingColumn, ColGeometry)
	}
	domain.CanonicalizeRequestColumns(&table)
	if err := domain.RequireColumns(table, "buffers", RequiredProperties...); err != nil {
		return nil, err
	}

	requests := make(map[string]*domain.StreetlightRequest)
	seen := make(map[string]bool)
	for i, rec := range table.Rows {
		buf, err := parseFeature(rec, geoms[i], crs, requests)
		if err != nil {
			if col.Drops.Record(err) {
				continue
			}
			return nil, err
		}
		key := buf.Request.RequestID + "|" + strconv.FormatFloat(buf.RadiusM, 'f', -1, 64)
		if seen[key] {
			col.Drops.Record(&domain.DropError{Reason: domain.DropDuplicate, Detail: "buffer " + key})
			continue
		}
		seen[key] = true
		col.Buffers = append(col.Buffers, buf)
	}
	return col, nil
}

func parseFeature(rec domain.Record, g orb.Geometry, crs spatial.CRS, requests map[string]*domain.StreetlightRequest) (domain.Buffer, error) {
	req, err := domain.ParseRequestWindow(rec)
	if err != nil {
		return domain.Buffer{}, err
	}

	radius, err := strconv.ParseFloat(rec.Get(domain.ColBufferRadius), 64)
	if err != nil || radius <= 0 {
		return domain.Buffer{}, &domain.DropError{Reason: domain.DropBadRadius, Detail: "request " + req.RequestID}
	}

	poly, ok := asPolygon(g)
	if !ok {
		return domain.Buffer{}, &domain.DropError{Reason: domain.DropMissingGeometry, Detail: "request " + req.RequestID}
	}

	shared, ok := requests[req.RequestID]
	if !ok {
		shared = &req
		requests[req.RequestID] = shared
	}
	return domain.Buffer{
		Request: shared,
		RadiusM: radius,
		Polygon: spatial.Polygon{Geom: poly, CRS: crs},
	}, nil
}

func asPolygon(g orb.Geometry) (orb.Polygon, bool) {
	switch p := g.(type) {
	case orb.Polygon:
		return p, len(p) > 0 && len(p[0]) >= 4
	case orb.MultiPolygon:
		if len(p) == 1 {
			return asPolygon(p[0])
		}
	}
	return nil, false
}

// featureTable flattens feature properties into a table whose columns are
// the union of every feature's keys.
func featureTable(features []*geojson.Feature) (domain.Table, []orb.Geometry) {
	var table domain.Table
	geoms := make([]orb.Geometry, len(features))
	for i, f := range features {
		rec := make(domain.Record, len(f.Properties))
		for _, k := range slices.Sorted(maps.Keys(f.Properties)) {
			table.AddColumns(k)
			rec[k] = propertyString(f.Properties[k])
		}
		table.Rows = append(table.Rows, rec)
		geoms[i] = f.Geometry
	}
	return table, geoms
}

func propertyString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// WriteGeoJSON encodes buffers as a FeatureCollection tagged with crs. Every
// buffer must already be in crs.
func WriteGeoJSON(w io.Writer, crs spatial.CRS, buffers []domain.Buffer) error {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{"crs": spatial.CRSMember(crs)}

	for _, b := range buffers {
		if err := spatial.RequireSame(crs, b.Polygon.CRS); err != nil {
			return fmt.Errorf("buffer %s: %w", b.Request.RequestID, err)
		}
		f := geojson.NewFeature(b.Polygon.Geom)
		f.Properties[domain.ColServiceRequestNumber] = b.Request.RequestID
		f.Properties[domain.ColCreationDate] = domain.FormatTimestamp(b.Request.CreationTime)
		if b.Request.CompletionTime != nil {
			f.Properties[domain.ColCompletionDate] = domain.FormatTimestamp(*b.Request.CompletionTime)
		}
		if b.Request.Status != "" {
			f.Properties[domain.ColStatus] = b.Request.Status
		}
		f.Properties[domain.ColBufferRadius] = b.RadiusM
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode buffers: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write buffers: %w", err)
	}
	return nil
}
