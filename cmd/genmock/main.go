// Command genmock writes deterministic streetlight and crime CSV fixtures in
// the Socrata column layout. Crimes are scattered around the requests at
// known distances and day lags so a local run exercises every buffer radius,
// the service window, each lag bucket, and the drop counters.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -streetlights data/mock/streetlights.csv \
//	  -crimes data/mock/crimes.csv \
//	  -requests 200 -crimes-per-request 20
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/couchcryptid/streetlight-crime-etl/internal/adapter/csvfeed"
	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
)

// Fixtures cover the Loop and surrounding community areas.
const (
	minLat, maxLat = 41.85, 41.91
	minLon, maxLon = -87.68, -87.60

	metersPerDegreeLat = 111320.0
	// Crimes land up to this far from their request.
	maxOffsetMeters = 60.0

	socrataTime = "2006-01-02T15:04:05.000"
)

var (
	baseDate   = time.Date(2013, time.January, 1, 0, 0, 0, 0, time.UTC)
	crimeTypes = []string{"THEFT", "BATTERY", "CRIMINAL DAMAGE", "ASSAULT", "ROBBERY", "BURGLARY"}
	statuses   = []string{"Completed", "Completed", "Completed", "Open"}
	lightCols  = []string{"service_request_number", "creation_date", "completion_date", "status", "latitude", "longitude"}
	crimeCols  = []string{"id", "date", "year", "primary_type", "latitude", "longitude", "community_area", "beat", "district", "ward"}
)

type request struct {
	id       string
	created  time.Time
	lat, lon float64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	lightsOut := flag.String("streetlights", "", "output path for the streetlight CSV")
	crimesOut := flag.String("crimes", "", "output path for the crime CSV")
	nRequests := flag.Int("requests", 200, "number of streetlight requests")
	perRequest := flag.Int("crimes-per-request", 20, "crimes placed around each request")
	seed := flag.Uint64("seed", 42, "random seed")
	flag.Parse()

	if *lightsOut == "" || *crimesOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -streetlights, -crimes")
	}
	if *nRequests < 1 || *perRequest < 0 {
		return fmt.Errorf("need -requests >= 1 and -crimes-per-request >= 0")
	}

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))

	lights, requests := genRequests(rng, *nRequests)
	crimes := genCrimes(rng, requests, *perRequest)

	if err := csvfeed.WriteFile(*lightsOut, lights); err != nil {
		return fmt.Errorf("write %s: %w", *lightsOut, err)
	}
	log.Printf("%s: %d requests", *lightsOut, len(lights.Rows))
	if err := csvfeed.WriteFile(*crimesOut, crimes); err != nil {
		return fmt.Errorf("write %s: %w", *crimesOut, err)
	}
	log.Printf("%s: %d crimes", *crimesOut, len(crimes.Rows))
	return nil
}

func genRequests(rng *rand.Rand, n int) (domain.Table, []request) {
	table := domain.Table{Columns: lightCols}
	requests := make([]request, 0, n)
	for i := range n {
		r := request{
			id:      fmt.Sprintf("13-%08d", 100000+i),
			created: baseDate.Add(time.Duration(rng.Int64N(int64(360 * domain.Day)))).Truncate(time.Minute),
			lat:     minLat + rng.Float64()*(maxLat-minLat),
			lon:     minLon + rng.Float64()*(maxLon-minLon),
		}
		requests = append(requests, r)

		rec := domain.Record{
			"service_request_number": r.id,
			"creation_date":          r.created.Format(socrataTime),
			"status":                 statuses[rng.IntN(len(statuses))],
			"latitude":               strconv.FormatFloat(r.lat, 'f', 6, 64),
			"longitude":              strconv.FormatFloat(r.lon, 'f', 6, 64),
		}
		if rec["status"] == "Completed" {
			done := r.created.Add(time.Duration(1+rng.IntN(10)) * domain.Day).Add(time.Duration(rng.IntN(24)) * time.Hour)
			rec["completion_date"] = done.Format(socrataTime)
		}
		// Every 50th request lacks coordinates and is dropped by the pipeline.
		if i%50 == 49 {
			delete(rec, "latitude")
			delete(rec, "longitude")
		}
		table.Rows = append(table.Rows, rec)
	}
	return table, requests
}

func genCrimes(rng *rand.Rand, requests []request, perRequest int) domain.Table {
	table := domain.Table{Columns: crimeCols}
	id := 8000000
	for _, r := range requests {
		for range perRequest {
			id++
			// Lags span the buckets before creation through well past completion.
			lag := time.Duration(rng.Int64N(int64(18*domain.Day))) - 6*domain.Day
			at := r.created.Add(lag).Truncate(time.Second)

			bearing := rng.Float64() * 2 * math.Pi
			dist := rng.Float64() * maxOffsetMeters
			lat := r.lat + dist*math.Cos(bearing)/metersPerDegreeLat
			lon := r.lon + dist*math.Sin(bearing)/(metersPerDegreeLat*math.Cos(r.lat*math.Pi/180))

			rec := domain.Record{
				"id":             strconv.Itoa(id),
				"date":           at.Format(socrataTime),
				"year":           strconv.Itoa(at.Year()),
				"primary_type":   crimeTypes[rng.IntN(len(crimeTypes))],
				"latitude":       strconv.FormatFloat(lat, 'f', 7, 64),
				"longitude":      strconv.FormatFloat(lon, 'f', 7, 64),
				"community_area": strconv.Itoa(28 + rng.IntN(6)),
				"beat":           strconv.Itoa(100 + rng.IntN(40)),
				"district":       strconv.Itoa(1 + rng.IntN(3)),
				"ward":           strconv.Itoa(1 + rng.IntN(50)),
			}
			// A few unusable rows exercise the drop counters.
			switch {
			case id%97 == 0:
				rec["date"] = "not a date"
			case id%89 == 0:
				delete(rec, "latitude")
			}
			table.Rows = append(table.Rows, rec)
		}
	}
	return table
}
