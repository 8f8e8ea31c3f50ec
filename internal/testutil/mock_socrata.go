// Package testutil provides testing utilities for the Socrata ingestion tool.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RecordedRequest is a request seen by MockSocrata.
type RecordedRequest struct {
	Path   string
	Query  url.Values
	Header http.Header
}

// Offset returns the parsed $offset parameter, or -1.
func (r RecordedRequest) Offset() int {
	v, err := strconv.Atoi(r.Query.Get("$offset"))
	if err != nil {
		return -1
	}
	return v
}

// Limit returns the parsed $limit parameter, or -1.
func (r RecordedRequest) Limit() int {
	v, err := strconv.Atoi(r.Query.Get("$limit"))
	if err != nil {
		return -1
	}
	return v
}

// MockSocrata is a configurable mock of a Socrata resource endpoint. It
// serves a fixed dataset with $offset/$limit paging.
type MockSocrata struct {
	server *httptest.Server
	mu     sync.Mutex

	datasets map[string][]map[string]any
	handlers map[string]http.HandlerFunc

	// MaxLimit caps $limit the way the real API caps page sizes. Zero means
	// no cap.
	MaxLimit int

	// RetryAfter is sent with injected 429 responses when positive.
	RetryAfter time.Duration

	keyID     string
	keySecret string
	appToken  string
	badWhere  string

	failures map[int][]int
	requests []RecordedRequest
}

// NewMockSocrata creates a new mock Socrata server.
func NewMockSocrata() *MockSocrata {
	mock := &MockSocrata{
		datasets: make(map[string][]map[string]any),
		handlers: make(map[string]http.HandlerFunc),
		failures: make(map[int][]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requests = append(mock.requests, RecordedRequest{
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
		})
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.serveResource(w, r)
	}))

	return mock
}

// URL returns the mock server URL, usable as a base URL.
func (m *MockSocrata) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSocrata) Close() {
	m.server.Close()
}

// SetDataset serves rows at path, e.g. "/resource/ijzp-q8t2.json".
func (m *MockSocrata) SetDataset(path string, rows []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[path] = rows
}

// SetHandler sets a custom handler for a specific path.
func (m *MockSocrata) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// RequireAPIKey makes the server demand HTTP Basic credentials. Missing
// credentials get 401, wrong ones 403.
func (m *MockSocrata) RequireAPIKey(id, secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyID = id
	m.keySecret = secret
}

// RequireAppToken makes the server demand an X-App-Token header.
func (m *MockSocrata) RequireAppToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appToken = token
}

// RejectWhere answers 400 to any $where containing fragment, the way the
// API rejects a malformed SoQL filter.
func (m *MockSocrata) RejectWhere(fragment string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.badWhere = fragment
}

// FailOffset makes requests at offset answer with statuses, in order,
// before the page is served normally.
func (m *MockSocrata) FailOffset(offset int, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[offset] = append(m.failures[offset], statuses...)
}

// Requests returns all requests seen so far.
func (m *MockSocrata) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSocrata) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Offsets returns the $offset of every request, in order.
func (m *MockSocrata) Offsets() []int {
	reqs := m.Requests()
	offsets := make([]int, len(reqs))
	for i, r := range reqs {
		offsets[i] = r.Offset()
	}
	return offsets
}

func (m *MockSocrata) serveResource(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json;charset=utf-8")

	m.mu.Lock()
	rows, ok := m.datasets[r.URL.Path]
	keyID, keySecret, appToken, badWhere := m.keyID, m.keySecret, m.appToken, m.badWhere
	maxLimit, retryAfter := m.MaxLimit, m.RetryAfter
	m.mu.Unlock()

	if keyID != "" {
		id, secret, hasAuth := r.BasicAuth()
		if !hasAuth {
			writeError(w, http.StatusUnauthorized, "authentication_required", "Authentication required")
			return
		}
		if id != keyID || secret != keySecret {
			writeError(w, http.StatusForbidden, "invalid_credentials", "Invalid API key")
			return
		}
	}
	if appToken != "" && r.Header.Get("X-App-Token") != appToken {
		writeError(w, http.StatusForbidden, "invalid_app_token", "Invalid app token")
		return
	}

	if !ok {
		writeError(w, http.StatusNotFound, "dataset.missing", "Dataset not found")
		return
	}

	query := r.URL.Query()
	if badWhere != "" && strings.Contains(query.Get("$where"), badWhere) {
		writeError(w, http.StatusBadRequest, "query.soql.no-such-column", "No such column: "+badWhere)
		return
	}

	offset, _ := strconv.Atoi(query.Get("$offset"))
	limit, err := strconv.Atoi(query.Get("$limit"))
	if err != nil || limit <= 0 {
		limit = 1000
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}

	if status, injected := m.nextFailure(offset); injected {
		if status == http.StatusTooManyRequests && retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		}
		writeError(w, status, "injected", http.StatusText(status))
		return
	}

	start := offset
	if start > len(rows) {
		start = len(rows)
	}
	end := start + limit
	if end > len(rows) {
		end = len(rows)
	}

	page := rows[start:end]
	if sel := query.Get("$select"); sel != "" {
		page = project(page, strings.Split(sel, ","))
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(page)
}

func (m *MockSocrata) nextFailure(offset int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.failures[offset]
	if len(queue) == 0 {
		return 0, false
	}
	m.failures[offset] = queue[1:]
	return queue[0], true
}

// project keeps only selected columns; columns absent from a row stay
// absent, as the API omits null fields.
func project(rows []map[string]any, columns []string) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		p := make(map[string]any, len(columns))
		for _, c := range columns {
			if v, ok := row[strings.TrimSpace(c)]; ok {
				p[strings.TrimSpace(c)] = v
			}
		}
		out[i] = p
	}
	return out
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json;charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"code":%q,"error":true,"message":%q}`, code, message)
}

// GenerateRows builds n rows with the given columns. Cell values are
// "<column>-<row index>".
func GenerateRows(n int, columns ...string) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		row := make(map[string]any, len(columns))
		for _, c := range columns {
			row[c] = fmt.Sprintf("%s-%d", c, i)
		}
		rows[i] = row
	}
	return rows
}

// CrimeRows builds n crime-like rows, one per day starting at start.
func CrimeRows(n int, start time.Time) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{
			"date":         start.AddDate(0, 0, i).Format("2006-01-02T15:04:05.000"),
			"primary_type": "THEFT",
			"arrest":       true,
			"beat":         fmt.Sprintf("%04d", 100+i%50),
			"ward":         i%50 + 1,
		}
	}
	return rows
}
