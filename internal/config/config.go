package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
	"github.com/couchcryptid/streetlight-crime-etl/internal/spatial"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all job settings, populated from environment variables.
// Values are static for the lifetime of a run.
type Config struct {
	// Socrata feed reader.
	SocrataDomain    string        `env:"SOCRATA_DOMAIN" validate:"required"`
	SocrataAppToken  string        `env:"SOCRATA_APP_TOKEN"`
	SocrataTimeout   time.Duration `env:"SOCRATA_TIMEOUT" validate:"gt=0"`
	SocrataPageSize  int           `env:"SOCRATA_PAGE_SIZE" validate:"gte=1,lte=50000"`
	SocrataPageDelay time.Duration `env:"SOCRATA_PAGE_DELAY" validate:"gte=0"`

	CrimeDataset       string   `env:"CRIME_DATASET" validate:"required"`
	CrimeColumns       []string `env:"CRIME_COLUMNS" validate:"required,dive,required"`
	CrimeStart         string   `env:"CRIME_START" validate:"required"`
	CrimeEnd           string   `env:"CRIME_END" validate:"required"`
	StreetlightDataset string   `env:"STREETLIGHT_DATASET" validate:"required"`

	// Local caches. An empty path means the feed is fetched from Socrata.
	CrimeCSV       string `env:"CRIME_CSV"`
	StreetlightCSV string `env:"STREETLIGHT_CSV"`
	BuffersFile    string `env:"BUFFERS_FILE"`

	// Buffers and join.
	BufferRadii   []float64     `env:"BUFFER_RADII" validate:"required,unique,dive,gt=0"`
	QuadSegments  int           `env:"BUFFER_QUAD_SEGMENTS" validate:"gte=1,lte=256"`
	TargetCRS     spatial.CRS   `env:"TARGET_CRS"`
	BucketMinDays int           `env:"BUCKET_MIN_DAYS" validate:"gte=1"`
	BucketMaxDays int           `env:"BUCKET_MAX_DAYS" validate:"gtefield=BucketMinDays"`
	JoinModes     []domain.Mode `env:"JOIN_MODES" validate:"required"`
	JoinWorkers   int           `env:"JOIN_WORKERS" validate:"gte=1"`

	WindowOutput string `env:"WINDOW_OUTPUT" validate:"required"`
	BucketOutput string `env:"BUCKET_OUTPUT" validate:"required"`

	// Optional match event sink; disabled when KafkaBrokers is empty.
	KafkaBrokers   []string `env:"KAFKA_BROKERS"`
	KafkaSinkTopic string   `env:"KAFKA_SINK_TOPIC" validate:"required_with=KafkaBrokers"`

	HTTPAddr        string        `env:"HTTP_ADDR"`
	LogLevel        string        `env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	LogFormat       string        `env:"LOG_FORMAT" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

// Buckets returns the configured lag-bucket range.
func (c *Config) Buckets() domain.BucketRange {
	return domain.BucketRange{Min: c.BucketMinDays, Max: c.BucketMaxDays}
}

// KafkaEnabled reports whether match events are published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// HasMode reports whether m is one of the configured join modes.
func (c *Config) HasMode(m domain.Mode) bool {
	return slices.Contains(c.JoinModes, m)
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is loaded first if one
// exists; it never overrides variables already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		SocrataDomain:    sharedcfg.EnvOrDefault("SOCRATA_DOMAIN", "data.cityofchicago.org"),
		SocrataAppToken:  os.Getenv("SOCRATA_APP_TOKEN"),
		SocrataTimeout:   p.duration("SOCRATA_TIMEOUT", "120s"),
		SocrataPageSize:  p.integer("SOCRATA_PAGE_SIZE", 10000),
		SocrataPageDelay: p.duration("SOCRATA_PAGE_DELAY", "200ms"),

		CrimeDataset:       sharedcfg.EnvOrDefault("CRIME_DATASET", "ijzp-q8t2"),
		CrimeColumns:       splitList(sharedcfg.EnvOrDefault("CRIME_COLUMNS", "id,date,year,primary_type,latitude,longitude,community_area,beat,district,ward")),
		CrimeStart:         sharedcfg.EnvOrDefault("CRIME_START", "2011-01-01T00:00:00.000"),
		CrimeEnd:           sharedcfg.EnvOrDefault("CRIME_END", "2018-12-31T23:59:59.999"),
		StreetlightDataset: sharedcfg.EnvOrDefault("STREETLIGHT_DATASET", "zuxi-7xem"),

		CrimeCSV:       os.Getenv("CRIME_CSV"),
		StreetlightCSV: os.Getenv("STREETLIGHT_CSV"),
		BuffersFile:    os.Getenv("BUFFERS_FILE"),

		BufferRadii:   p.floats("BUFFER_RADII", "15,30,50"),
		QuadSegments:  p.integer("BUFFER_QUAD_SEGMENTS", spatial.DefaultQuadSegments),
		TargetCRS:     p.crs("TARGET_CRS", "EPSG:3435"),
		BucketMinDays: p.integer("BUCKET_MIN_DAYS", domain.DefaultBucketRange.Min),
		BucketMaxDays: p.integer("BUCKET_MAX_DAYS", domain.DefaultBucketRange.Max),
		JoinModes:     p.modes("JOIN_MODES", "window,buckets"),
		JoinWorkers:   p.integer("JOIN_WORKERS", runtime.NumCPU()),

		WindowOutput: sharedcfg.EnvOrDefault("WINDOW_OUTPUT", "crimes_in_window.geojson"),
		BucketOutput: sharedcfg.EnvOrDefault("BUCKET_OUTPUT", "crimes_in_buckets.geojson"),

		KafkaBrokers:   parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "streetlight-crime-matches"),

		HTTPAddr:        lookupOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        strings.ToLower(sharedcfg.EnvOrDefault("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(sharedcfg.EnvOrDefault("LOG_FORMAT", "json")),
		ShutdownTimeout: shutdownTimeout,
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := newValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for _, ts := range []struct{ key, value string }{{"CRIME_START", cfg.CrimeStart}, {"CRIME_END", cfg.CrimeEnd}} {
		if _, err := domain.ParseTimestamp(ts.value); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", ts.key, err)
		}
	}
	return cfg, nil
}

// newValidator reports failures by environment variable name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// parseBrokers treats an unset or blank KAFKA_BROKERS as "sink disabled".
func parseBrokers(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return sharedcfg.ParseBrokers(s)
}

// lookupOrDefault distinguishes an explicitly empty variable from an unset one.
func lookupOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser records the first parse failure so Load can build the struct in
// one literal.
type parser struct {
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (p *parser) integer(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		p.fail(key, err)
	}
	return n
}

func (p *parser) duration(key, def string) time.Duration {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		p.fail(key, err)
	}
	return d
}

func (p *parser) floats(key, def string) []float64 {
	var out []float64
	for _, part := range splitList(sharedcfg.EnvOrDefault(key, def)) {
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			p.fail(key, err)
			return nil
		}
		out = append(out, f)
	}
	return out
}

func (p *parser) crs(key, def string) spatial.CRS {
	c, err := spatial.ParseCRS(sharedcfg.EnvOrDefault(key, def))
	if err == nil {
		err = spatial.RequireProjected(c)
	}
	if err != nil {
		p.fail(key, err)
	}
	return c
}

func (p *parser) modes(key, def string) []domain.Mode {
	m, err := domain.ParseModes(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		p.fail(key, err)
	}
	return m
}
