// Command validate re-checks the output invariants on GeoJSON result files:
// service-window bounds, lag-bucket bounds and width, the coarse day-gap
// superset, unique row keys, and optionally the buffer radius against the
// request locations in a streetlight CSV.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -window crimes_in_window.geojson \
//	  -buckets crimes_in_buckets.geojson \
//	  -streetlights data/streetlights.csv
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/streetlight-crime-etl/internal/adapter/csvfeed"
	"github.com/couchcryptid/streetlight-crime-etl/internal/adapter/geojsonout"
	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
	"github.com/couchcryptid/streetlight-crime-etl/internal/spatial"
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// The radius check measures on a sphere, which differs from the ellipsoid by
// up to half a percent.
const (
	earthRadiusMeters = 6371008.8
	radiusTolerance   = 0.005
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	windowPath := flag.String("window", "", "window-mode output GeoJSON")
	bucketPath := flag.String("buckets", "", "bucket-mode output GeoJSON")
	streetlights := flag.String("streetlights", "", "streetlight CSV for the radius check (optional)")
	minDays := flag.Int("min-days", domain.DefaultBucketRange.Min, "smallest bucket index")
	maxDays := flag.Int("max-days", domain.DefaultBucketRange.Max, "largest bucket index")
	flag.Parse()

	if *windowPath == "" && *bucketPath == "" {
		flag.Usage()
		return fmt.Errorf("nothing to validate: pass -window and/or -buckets")
	}
	r := domain.BucketRange{Min: *minDays, Max: *maxDays}
	if err := r.Validate(); err != nil {
		return err
	}

	var locations map[string]spatial.Point
	if *streetlights != "" {
		var err error
		if locations, err = requestLocations(*streetlights); err != nil {
			return err
		}
		log.Printf("loaded %d request locations", len(locations))
	}

	var phases []*phase
	if *windowPath != "" {
		fc, err := readOutput(*windowPath)
		if err != nil {
			return err
		}
		phases = append(phases, checkWindow(fc.Collection), checkKeys("window keys", fc.Collection))
		if locations != nil {
			phases = append(phases, checkRadius("window radius", fc, locations))
		}
	}
	if *bucketPath != "" {
		fc, err := readOutput(*bucketPath)
		if err != nil {
			return err
		}
		phases = append(phases, checkBuckets(fc.Collection, r), checkKeys("bucket keys", fc.Collection))
		if locations != nil {
			phases = append(phases, checkRadius("bucket radius", fc, locations))
		}
	}

	failed := 0
	for _, p := range phases {
		if p.passed() {
			log.Printf("PASS %s", p.name)
			continue
		}
		failed++
		log.Printf("FAIL %s (%d errors)", p.name, len(p.errors))
		for _, e := range p.errors[:min(len(p.errors), 20)] {
			log.Printf("  %s", e)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d phases failed", failed, len(phases))
	}
	return nil
}

func readOutput(path string) (*geojsonout.Decoded, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, err := geojsonout.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Printf("%s: %d features in %s", path, len(d.Collection.Features), d.CRS)
	return d, nil
}

// requestLocations maps request ids to their WGS84 locations.
func requestLocations(path string) (map[string]spatial.Point, error) {
	table, err := csvfeed.ReadFile(path)
	if err != nil {
		return nil, err
	}
	domain.CanonicalizeRequestColumns(&table)
	if err := domain.RequireColumns(table, "streetlight", domain.RequestRequiredColumns...); err != nil {
		return nil, err
	}
	out := make(map[string]spatial.Point, len(table.Rows))
	for _, rec := range table.Rows {
		req, err := domain.ParseRequest(rec)
		if err != nil {
			continue
		}
		if _, dup := out[req.RequestID]; !dup {
			out[req.RequestID] = req.Location
		}
	}
	return out, nil
}

func stringProp(f *geojson.Feature, key string) (string, bool) {
	s, ok := f.Properties[key].(string)
	return s, ok
}

func timeProp(f *geojson.Feature, key string) (t time.Time, present bool, err error) {
	s, ok := stringProp(f, key)
	if !ok {
		return time.Time{}, false, nil
	}
	t, err = domain.ParseTimestamp(s)
	return t, true, err
}

func numberProp(f *geojson.Feature, key string) (float64, bool) {
	n, ok := f.Properties[key].(float64)
	return n, ok
}

// featureTimes reads the crime and request timestamps every row carries.
func featureTimes(f *geojson.Feature) (occurred, creation time.Time, err error) {
	occurred, ok, err := timeProp(f, domain.ColCrimeDate)
	if !ok || err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad %s: %v", domain.ColCrimeDate, err)
	}
	creation, ok, err = timeProp(f, domain.ColCreationDate)
	if !ok || err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad %s: %v", domain.ColCreationDate, err)
	}
	return occurred, creation, nil
}

func featureLabel(i int, f *geojson.Feature) string {
	id, _ := stringProp(f, domain.ColID)
	req, _ := stringProp(f, domain.ColRequestID)
	return fmt.Sprintf("feature %d (crime %s, request %s)", i, id, req)
}

// checkWindow verifies creation <= occurred <= completion on every row.
func checkWindow(fc *geojson.FeatureCollection) *phase {
	p := &phase{name: "window bounds"}
	for i, f := range fc.Features {
		label := featureLabel(i, f)
		occurred, creation, err := featureTimes(f)
		if err != nil {
			p.errorf("%s: %v", label, err)
			continue
		}
		completion, present, err := timeProp(f, domain.ColCompletionDate)
		if err != nil {
			p.errorf("%s: bad %s: %v", label, domain.ColCompletionDate, err)
			continue
		}
		var c *time.Time
		if present {
			c = &completion
		}
		if !domain.InServiceWindow(occurred, creation, c) {
			p.errorf("%s: crime at %s outside window starting %s", label, domain.FormatTimestamp(occurred), domain.FormatTimestamp(creation))
		}
	}
	return p
}

// checkBuckets verifies the bucket index, interval, width, anchor, and that
// the coarse day gap agrees with the exact assignment.
func checkBuckets(fc *geojson.FeatureCollection, r domain.BucketRange) *phase {
	p := &phase{name: "bucket bounds"}
	for i, f := range fc.Features {
		label := featureLabel(i, f)
		occurred, creation, err := featureTimes(f)
		if err != nil {
			p.errorf("%s: %v", label, err)
			continue
		}
		k, ok := numberProp(f, domain.ColDaysBeforeRequest)
		if !ok || k != float64(int(k)) || !r.Contains(int(k)) {
			p.errorf("%s: %s %v outside [%d, %d]", label, domain.ColDaysBeforeRequest, f.Properties[domain.ColDaysBeforeRequest], r.Min, r.Max)
			continue
		}
		start, okS, errS := timeProp(f, domain.ColBucketStart)
		end, okE, errE := timeProp(f, domain.ColBucketEnd)
		if !okS || !okE || errS != nil || errE != nil {
			p.errorf("%s: missing or bad bucket interval", label)
			continue
		}

		wantStart, wantEnd := domain.BucketBounds(creation, int(k))
		switch {
		case !start.Equal(wantStart) || !end.Equal(wantEnd):
			p.errorf("%s: bucket %d is [%s, %s), want [%s, %s)", label, int(k),
				domain.FormatTimestamp(start), domain.FormatTimestamp(end),
				domain.FormatTimestamp(wantStart), domain.FormatTimestamp(wantEnd))
		case end.Sub(start) != domain.Day:
			p.errorf("%s: bucket width %s", label, end.Sub(start))
		case occurred.Before(start) || !occurred.Before(end):
			p.errorf("%s: crime at %s outside its bucket", label, domain.FormatTimestamp(occurred))
		}
		if gap := domain.DayGap(creation, occurred); !r.Contains(gap) {
			p.errorf("%s: day gap %d fails the coarse filter", label, gap)
		}
	}
	return p
}

// checkKeys verifies each (crime, request, radius) appears once.
func checkKeys(name string, fc *geojson.FeatureCollection) *phase {
	p := &phase{name: name}
	seen := make(map[string]int, len(fc.Features))
	for i, f := range fc.Features {
		id, _ := stringProp(f, domain.ColID)
		req, _ := stringProp(f, domain.ColRequestID)
		radius, _ := numberProp(f, domain.ColBufferRadius)
		key := id + "|" + req + "|" + strconv.FormatFloat(radius, 'f', -1, 64)
		if first, dup := seen[key]; dup {
			p.errorf("feature %d repeats %s from feature %d", i, key, first)
			continue
		}
		seen[key] = i
	}
	return p
}

// checkRadius verifies every crime lies within its buffer radius of the
// request location, measured geodesically.
func checkRadius(name string, d *geojsonout.Decoded, locations map[string]spatial.Point) *phase {
	p := &phase{name: name}
	for i, f := range d.Collection.Features {
		label := featureLabel(i, f)
		req, _ := stringProp(f, domain.ColRequestID)
		loc, ok := locations[req]
		if !ok {
			p.errorf("%s: request not in streetlight CSV", label)
			continue
		}
		radius, ok := numberProp(f, domain.ColBufferRadius)
		if !ok {
			p.errorf("%s: missing %s", label, domain.ColBufferRadius)
			continue
		}
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			p.errorf("%s: geometry is %T, want Point", label, f.Geometry)
			continue
		}
		crime, err := spatial.Reproject(spatial.Point{Coord: pt, CRS: d.CRS}, spatial.WGS84)
		if err != nil {
			p.errorf("%s: %v", label, err)
			continue
		}
		if dist := geodesicMeters(crime, loc); dist > radius*(1+radiusTolerance) {
			p.errorf("%s: %.2fm from request, radius %gm", label, dist, radius)
		}
	}
	return p
}

func geodesicMeters(a, b spatial.Point) float64 {
	p1 := s2.LatLngFromDegrees(a.Coord[1], a.Coord[0])
	p2 := s2.LatLngFromDegrees(b.Coord[1], b.Coord[0])
	return p1.Distance(p2).Radians() * earthRadiusMeters
}
