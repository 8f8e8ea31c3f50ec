package client

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/socrata-ingest/pkg/config"
)

// PageRequest is everything needed to request one page of a dataset.
type PageRequest struct {
	// BaseURL is the resource root, e.g. https://data.cityofchicago.org/resource.
	BaseURL string

	// Endpoint is the dataset resource, e.g. ijzp-q8t2.json.
	Endpoint string

	Credentials config.Credentials

	// Columns become $select; empty selects all columns.
	Columns []string

	// RowFilter is passed verbatim as $where.
	RowFilter string

	// Order is passed verbatim as $order.
	Order string

	Limit  int
	Offset int

	// Timeout bounds a single HTTP attempt; zero leaves it to the HTTP client.
	Timeout time.Duration

	// Delay is the minimum wait before any retry of this page.
	Delay time.Duration
}

// Query returns the SoQL query parameters for the page.
func (r PageRequest) Query() url.Values {
	q := url.Values{}
	if len(r.Columns) > 0 {
		q.Set("$select", strings.Join(r.Columns, ","))
	}
	if r.RowFilter != "" {
		q.Set("$where", r.RowFilter)
	}
	if r.Order != "" {
		q.Set("$order", r.Order)
	}
	q.Set("$limit", strconv.Itoa(r.Limit))
	q.Set("$offset", strconv.Itoa(r.Offset))
	return q
}

// URL builds the full request URL.
func (r PageRequest) URL() (string, error) {
	if r.BaseURL == "" {
		return "", fmt.Errorf("base url is required")
	}
	if r.Endpoint == "" {
		return "", fmt.Errorf("endpoint is required")
	}

	u, err := url.Parse(strings.TrimRight(r.BaseURL, "/") + "/" + strings.TrimLeft(r.Endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", r.BaseURL)
	}

	u.RawQuery = r.Query().Encode()
	return u.String(), nil
}
