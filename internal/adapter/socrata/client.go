// Package socrata reads datasets from a Socrata Open Data (SODA) endpoint
// using offset pagination.
package socrata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/streetlight-crime-etl/internal/config"
	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
	"github.com/couchcryptid/streetlight-crime-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Query selects rows from one dataset. Select and Where map to the SODA
// $select and $where parameters and are omitted when empty.
type Query struct {
	Dataset string
	Select  []string
	Where   string
}

// CrimeQuery selects the configured crime columns between CRIME_START and
// CRIME_END, both inclusive.
func CrimeQuery(cfg *config.Config) Query {
	return Query{
		Dataset: cfg.CrimeDataset,
		Select:  cfg.CrimeColumns,
		Where:   fmt.Sprintf("date between '%s' and '%s'", cfg.CrimeStart, cfg.CrimeEnd),
	}
}

// StreetlightQuery selects every column of the streetlight outage dataset.
func StreetlightQuery(cfg *config.Config) Query {
	return Query{Dataset: cfg.StreetlightDataset}
}

// Source binds a query to a client so the dataset can be loaded as a table.
type Source struct {
	Client *Client
	Query  Query
}

// Load fetches the whole dataset.
func (s Source) Load(ctx context.Context) (domain.Table, error) {
	return s.Client.Fetch(ctx, s.Query)
}

// Client fetches whole datasets page by page. A failed page aborts the
// fetch; there is no retry.
type Client struct {
	baseURL    string
	appToken   string
	pageSize   int
	pageDelay  time.Duration
	httpClient *http.Client
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a client for cfg.SocrataDomain. The clock paces requests
// between pages.
func NewClient(cfg *config.Config, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Client {
	base := cfg.SocrataDomain
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Client{
		baseURL:   strings.TrimRight(base, "/"),
		appToken:  cfg.SocrataAppToken,
		pageSize:  cfg.SocrataPageSize,
		pageDelay: cfg.SocrataPageDelay,
		httpClient: &http.Client{
			Timeout: cfg.SocrataTimeout,
		},
		clock:   clock,
		metrics: metrics,
		logger:  logger,
	}
}

// Fetch reads every row matching q, ordered by the system :id column so
// pages are stable. Pagination stops at the first empty page.
func (c *Client) Fetch(ctx context.Context, q Query) (domain.Table, error) {
	var table domain.Table
	table.AddColumns(q.Select...)

	offset := 0
	for page := 0; ; page++ {
		if page > 0 {
			if err := c.wait(ctx); err != nil {
				return domain.Table{}, err
			}
		}

		rows, err := c.fetchPage(ctx, q, offset)
		if err != nil {
			return domain.Table{}, fmt.Errorf("fetch %s page %d (offset %d): %w", q.Dataset, page, offset, err)
		}
		c.metrics.PagesFetched.WithLabelValues(q.Dataset).Inc()
		if len(rows) == 0 {
			break
		}
		c.metrics.RecordsFetched.WithLabelValues(q.Dataset).Add(float64(len(rows)))

		for _, row := range rows {
			rec := make(domain.Record, len(row))
			for _, k := range slices.Sorted(maps.Keys(row)) {
				// SODA omits null fields, so the column set grows as rows arrive.
				table.AddColumns(k)
				rec[k] = valueString(row[k])
			}
			table.Rows = append(table.Rows, rec)
		}
		offset += len(rows)
		c.logger.Debug("socrata page fetched", "dataset", q.Dataset, "page", page, "rows", len(rows), "total", offset)
	}

	c.logger.Info("socrata dataset fetched", "dataset", q.Dataset, "rows", len(table.Rows))
	return table, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.pageDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(c.pageDelay):
		return nil
	}
}

func (c *Client) fetchPage(ctx context.Context, q Query, offset int) ([]map[string]any, error) {
	params := url.Values{
		"$limit":  {strconv.Itoa(c.pageSize)},
		"$offset": {strconv.Itoa(offset)},
		"$order":  {":id"},
	}
	if len(q.Select) > 0 {
		params.Set("$select", strings.Join(q.Select, ","))
	}
	if q.Where != "" {
		params.Set("$where", q.Where)
	}
	u := fmt.Sprintf("%s/resource/%s.json?%s", c.baseURL, url.PathEscape(q.Dataset), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.appToken != "" {
		req.Header.Set("X-App-Token", c.appToken)
	}

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("socrata request: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.FetchDuration.WithLabelValues(q.Dataset).Observe(c.clock.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("socrata API error: status %d: %s", resp.StatusCode, body)
	}

	var rows []map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return rows, nil
}

// valueString flattens a SODA value. Nested values such as location objects
// are kept as compact JSON.
func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
