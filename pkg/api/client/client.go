package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the memtimeline API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// ProcessDump is the wire form of one process in a global memory dump.
type ProcessDump struct {
	DumpID      string             `json:"dump_id"`
	PID         int                `json:"pid"`
	Category    string             `json:"category"`
	TimestampUS int64              `json:"timestamp_us"`
	MemoryUsage map[string]float64 `json:"memory_usage"`
}

// Interaction is the wire form of a labelled time window.
type Interaction struct {
	Label   string `json:"label"`
	StartUS int64  `json:"start_us"`
	EndUS   int64  `json:"end_us"`
}

// Timeline is the request body for aggregation and run submission.
type Timeline struct {
	Label        string        `json:"label,omitempty"`
	ProcessDumps []ProcessDump `json:"process_dumps"`
	Interactions []Interaction `json:"interactions"`
}

// SeriesSummary reports descriptive statistics of one series.
type SeriesSummary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Aggregation is the stateless aggregation result.
type Aggregation struct {
	DumpCount     int                      `json:"dump_count"`
	SelectedDumps []string                 `json:"selected_dumps"`
	Series        map[string][]float64     `json:"series"`
	Summaries     map[string]SeriesSummary `json:"summaries"`
}

// Run is a stored aggregation.
type Run struct {
	ID            string                   `json:"id"`
	Label         string                   `json:"label"`
	DumpCount     int                      `json:"dump_count"`
	SelectedDumps int                      `json:"selected_dumps"`
	Interactions  []Interaction            `json:"interactions"`
	Series        map[string][]float64     `json:"series"`
	Summaries     map[string]SeriesSummary `json:"summaries"`
	CreatedAt     time.Time                `json:"created_at"`
}

// Aggregate computes series for a timeline without storing it.
func (c *Client) Aggregate(ctx context.Context, token string, timeline Timeline) (Aggregation, error) {
	var resp Aggregation
	if err := c.do(ctx, http.MethodPost, "/timeline/aggregate", timeline, token, &resp); err != nil {
		return Aggregation{}, err
	}
	return resp, nil
}

// CreateRun stores a labelled timeline as a run.
func (c *Client) CreateRun(ctx context.Context, token string, timeline Timeline) (Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodPost, "/runs", timeline, token, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun fetches a stored run.
func (c *Client) GetRun(ctx context.Context, token, id string) (Run, error) {
	var run Run
	path := "/runs/" + url.PathEscape(strings.TrimSpace(id))
	if err := c.do(ctx, http.MethodGet, path, nil, token, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// ListRuns lists stored runs, newest first. An empty label lists every run.
func (c *Client) ListRuns(ctx context.Context, token, label string, limit int) ([]Run, error) {
	query := url.Values{}
	if strings.TrimSpace(label) != "" {
		query.Set("label", strings.TrimSpace(label))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/runs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var runs []Run
	if err := c.do(ctx, http.MethodGet, path, nil, token, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}
