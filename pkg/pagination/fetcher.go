package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/socrata-ingest/pkg/client"
	"github.com/Sternrassler/socrata-ingest/pkg/clock"
	"github.com/Sternrassler/socrata-ingest/pkg/config"
	"github.com/Sternrassler/socrata-ingest/pkg/logging"
	"github.com/Sternrassler/socrata-ingest/pkg/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for dataset fetches.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socrata_pages_fetched_total",
		Help: "Total pages fetched by endpoint",
	}, []string{"endpoint"})

	rowsFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socrata_rows_fetched_total",
		Help: "Total rows fetched by endpoint",
	}, []string{"endpoint"})
)

// DatasetRequest describes one complete dataset fetch. It is not modified
// by the fetcher.
type DatasetRequest struct {
	BaseURL  string
	Endpoint string

	Credentials config.Credentials

	// Columns are requested in order; empty selects all columns.
	Columns []string

	// RowFilter is a SoQL predicate passed verbatim as $where.
	RowFilter string

	// Order is passed verbatim as $order. Offset paging is only stable
	// when the server orders rows consistently.
	Order string

	// PageSize is the $limit of every page.
	PageSize int

	// Timeout bounds each page request.
	Timeout time.Duration

	// Delay is the pause between consecutive page requests.
	Delay time.Duration

	// MaxPages bounds the fetch; 0 is unbounded. Reaching it with a full
	// last page fails with client.ErrPageLimit.
	MaxPages int

	// AllowPartial returns the rows gathered so far alongside a fetch
	// error instead of no table.
	AllowPartial bool
}

// Validate checks the request before any page is requested.
func (r DatasetRequest) Validate() error {
	if r.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}
	if r.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if r.PageSize <= 0 {
		return fmt.Errorf("page size must be > 0 (got %d)", r.PageSize)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0 (got %v)", r.Timeout)
	}
	if r.Delay < 0 {
		return fmt.Errorf("delay must be >= 0 (got %v)", r.Delay)
	}
	if r.MaxPages < 0 {
		return fmt.Errorf("max pages must be >= 0 (got %d)", r.MaxPages)
	}
	return nil
}

// page returns the request for the page at offset.
func (r DatasetRequest) page(offset int) client.PageRequest {
	return client.PageRequest{
		BaseURL:     r.BaseURL,
		Endpoint:    r.Endpoint,
		Credentials: r.Credentials,
		Columns:     r.Columns,
		RowFilter:   r.RowFilter,
		Order:       r.Order,
		Limit:       r.PageSize,
		Offset:      offset,
		Timeout:     r.Timeout,
		Delay:       r.Delay,
	}
}

// PageFetcher is the interface the Socrata client implements for
// single-page fetching.
type PageFetcher interface {
	// FetchPage fetches one page, retrying transient failures at the same offset.
	FetchPage(ctx context.Context, req client.PageRequest) ([]table.Record, error)
}

// Config holds fetcher configuration.
type Config struct {
	// Clock drives the delay between pages; nil uses the wall clock.
	Clock clock.Clock

	// ProgressEvery logs progress at info level every n pages.
	ProgressEvery int
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		Clock:         clock.Real{},
		ProgressEvery: 50,
	}
}

// Fetcher walks every page of a dataset.
type Fetcher struct {
	pages  PageFetcher
	clock  clock.Clock
	config Config
	logger zerolog.Logger
}

// NewFetcher creates a new dataset fetcher.
func NewFetcher(pages PageFetcher, config Config) *Fetcher {
	if config.Clock == nil {
		config.Clock = clock.Real{}
	}
	if config.ProgressEvery <= 0 {
		config.ProgressEvery = 50
	}

	return &Fetcher{
		pages:  pages,
		clock:  config.Clock,
		config: config,
		logger: logging.NewLogger("fetcher"),
	}
}

// Fetch retrieves every row matching req as a single table. Rows keep page
// order; columns are the requested columns followed by any others in the
// order they were first seen.
func (f *Fetcher) Fetch(ctx context.Context, req DatasetRequest) (*table.Table, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dataset request: %w", err)
	}

	start := time.Now()
	logger := logging.Dataset(f.logger, req.Endpoint)
	builder := table.NewBuilder(req.Columns...)

	logger.Info().
		Int("page_size", req.PageSize).
		Str("where", req.RowFilter).
		Dur("delay", req.Delay).
		Msg("Starting dataset fetch")

	failed := func(err error) (*table.Table, error) {
		if req.AllowPartial {
			logger.Warn().
				Err(err).
				Int("rows", builder.Len()).
				Msg("Fetch failed - returning partial results")
			return builder.Table(), err
		}
		return nil, err
	}

	offset, pages := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return failed(fmt.Errorf("%w: %w", client.ErrContextCancelled, err))
		}

		logger.Debug().Int("offset", offset).Msg("Requesting page")

		records, err := f.pages.FetchPage(ctx, req.page(offset))
		if err != nil {
			var authErr *client.AuthenticationError
			if errors.As(err, &authErr) {
				logger.Error().Err(err).Msg("Fetch aborted - credentials rejected")
			} else {
				logger.Error().Err(err).Int("offset", offset).Msg("Fetch failed")
			}
			return failed(err)
		}

		builder.Add(records...)
		pages++
		pagesFetchedTotal.WithLabelValues(req.Endpoint).Inc()
		rowsFetchedTotal.WithLabelValues(req.Endpoint).Add(float64(len(records)))

		logger.Debug().
			Int("offset", offset).
			Int("rows", len(records)).
			Int("page", pages).
			Msg("Page fetched")

		if pages%f.config.ProgressEvery == 0 {
			logger.Info().
				Int("pages", pages).
				Int("rows", builder.Len()).
				Msg("Fetch progress")
		}

		// A short page is the last page.
		if len(records) < req.PageSize {
			break
		}

		offset += len(records)

		// A full page at the bound means rows may remain.
		if req.MaxPages > 0 && pages >= req.MaxPages {
			logger.Warn().
				Int("max_pages", req.MaxPages).
				Int("next_offset", offset).
				Msg("Page bound reached - dataset truncated")
			return failed(&client.FetchError{
				Endpoint: req.Endpoint,
				Offset:   offset,
				Err:      fmt.Errorf("%w after %d pages", client.ErrPageLimit, pages),
			})
		}

		if err := f.clock.Sleep(ctx, req.Delay); err != nil {
			return failed(fmt.Errorf("%w: %w", client.ErrContextCancelled, err))
		}
	}

	tbl := builder.Table()

	logger.Info().
		Int("pages", pages).
		Int("rows", tbl.NumRows()).
		Int("columns", tbl.NumColumns()).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return tbl, nil
}
