package graylog

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/aura/internal/config"
	"github.com/jmylchreest/aura/internal/model"
)

const (
	// SearchPath is the message export endpoint; it answers with CSV.
	SearchPath = "/api/views/search/messages"

	// Window is the trailing time range covered by every search.
	Window = 5 * time.Minute

	// severityQuery selects error and warning messages (syslog levels 0-4).
	severityQuery = "level:<=4"

	levelField = "level"
)

// RequestFailure reports a search that produced no usable result: a network
// error, a non-200 status or an unreadable body.
type RequestFailure struct {
	Op         string // "count" or "severity"
	StatusCode int    // 0 when no response was received
	Err        error
}

func (e *RequestFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("graylog %s search: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("graylog %s search: %v", e.Op, e.Err)
}

func (e *RequestFailure) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was caused by a deadline.
func (e *RequestFailure) Timeout() bool {
	var netErr net.Error
	if errors.As(e.Err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Client issues authenticated searches against one Graylog instance.
type Client struct {
	http        *http.Client
	endpoint    string
	apiToken    string
	requestedBy string
	streams     []string
	mode        config.QueryMode
	logger      *slog.Logger
}

// NewClient creates a Client from the Graylog section of the configuration.
func NewClient(cfg config.GraylogConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	base, err := cfg.BaseURL()
	if err != nil {
		return nil, err
	}

	mode := cfg.QueryMode
	if mode == "" {
		mode = config.QueryModeCombined
	}

	streams := make([]string, len(cfg.Streams))
	copy(streams, cfg.Streams)

	return &Client{
		http:        &http.Client{Timeout: cfg.Timeout.Duration()},
		endpoint:    base + SearchPath,
		apiToken:    cfg.APIToken,
		requestedBy: cfg.RequestedBy,
		streams:     streams,
		mode:        mode,
		logger:      logger,
	}, nil
}

// Endpoint returns the full search URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Search samples message activity over the trailing window.
// Any failure is returned as a *RequestFailure.
func (c *Client) Search(ctx context.Context) (*model.Sample, error) {
	start := time.Now()
	sample, err := model.NewSample(start)
	if err != nil {
		return nil, err
	}

	switch c.mode {
	case config.QueryModeSeparate:
		err = c.searchSeparate(ctx, sample)
	default:
		err = c.searchCombined(ctx, sample)
	}
	sample.Latency = time.Since(start)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("graylog search complete",
		"sample", sample.ID,
		"mode", c.mode,
		"messages", sample.Messages,
		"errors", sample.Errors,
		"warnings", sample.Warnings,
		"latency", sample.Latency,
	)
	return sample, nil
}

// searchCombined derives every count from one unfiltered export.
func (c *Client) searchCombined(ctx context.Context, sample *model.Sample) error {
	levels, err := c.fetchLevels(ctx, "count", "")
	if err != nil {
		return err
	}
	sample.Messages = len(levels)
	for _, level := range levels {
		sample.AddSeverity(model.ClassifyLevel(level))
	}
	return nil
}

// searchSeparate counts all messages, then fetches only error and warning rows.
func (c *Client) searchSeparate(ctx context.Context, sample *model.Sample) error {
	all, err := c.fetchLevels(ctx, "count", "")
	if err != nil {
		return err
	}
	sample.Messages = len(all)

	severe, err := c.fetchLevels(ctx, "severity", severityQuery)
	if err != nil {
		return err
	}
	for _, level := range severe {
		sample.AddSeverity(model.ClassifyLevel(level))
	}
	return nil
}

type searchRequest struct {
	Streams       []string     `json:"streams"`
	Timerange     timerange    `json:"timerange"`
	FieldsInOrder []string     `json:"fields_in_order"`
	QueryString   *queryString `json:"query_string,omitempty"`
}

type timerange struct {
	Type  string `json:"type"`
	Range int    `json:"range"` // seconds
}

type queryString struct {
	Type        string `json:"type"`
	QueryString string `json:"query_string"`
}

func (c *Client) newSearchRequest(query string) searchRequest {
	req := searchRequest{
		Streams:       c.streams,
		Timerange:     timerange{Type: "relative", Range: int(Window / time.Second)},
		FieldsInOrder: []string{levelField},
	}
	if query != "" {
		req.QueryString = &queryString{Type: "elasticsearch", QueryString: query}
	}
	return req
}

// fetchLevels runs one export and returns the level of every row.
func (c *Client) fetchLevels(ctx context.Context, op, query string) ([]int, error) {
	body, err := json.Marshal(c.newSearchRequest(query))
	if err != nil {
		return nil, &RequestFailure{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &RequestFailure{Op: op, Err: err}
	}
	req.SetBasicAuth(c.apiToken, "token")
	req.Header.Set("X-Requested-By", c.requestedBy)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/csv")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RequestFailure{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &RequestFailure{Op: op, StatusCode: resp.StatusCode}
	}

	levels, err := parseLevels(resp.Body)
	if err != nil {
		return nil, &RequestFailure{Op: op, Err: err}
	}
	return levels, nil
}

// parseLevels reads a CSV export with a header row and returns one level per data row.
// Rows without a parsable level are recorded as emergencies so they count as errors.
func parseLevels(r io.Reader) ([]int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), levelField) {
			col = i
			break
		}
	}

	var levels []int
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}

		level := model.LevelEmergency
		if col >= 0 && col < len(record) {
			if v, err := strconv.Atoi(strings.TrimSpace(record[col])); err == nil {
				level = v
			}
		}
		levels = append(levels, level)
	}
	return levels, nil
}
