// Package transport delivers telemetry records to the remote collection
// endpoint over plain JSON/multipart HTTP, with bounded linear-backoff
// retries and uniform error classification.
package transport

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

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/signalpost/signalpost-go/core"
)

// Logical routes on the collection endpoint
const (
	RouteHealth  = "/health"
	RouteUsers   = "/v1/users"
	RouteEntries = "/v1/entries"
	RouteEvents  = "/v1/events"
	RouteErrors  = "/v1/errors"
	RouteMetrics = "/v1/metrics"
	RouteFiles   = "/v1/files"
)

// Client issues HTTP requests against the collection endpoint.
// Every read and write operation goes through the same retry policy:
// attempt 1 executes immediately, then the delay before attempt k+1 is
// the configured base delay multiplied by k, up to the attempt ceiling.
type Client struct {
	cfg        *core.Config
	httpClient *http.Client
	logger     *zap.Logger
	userAgent  string
}

// NewClient creates a transport client from a validated configuration.
// The per-attempt timeout is enforced by the underlying http.Client; a
// timed-out attempt is classified as a no-response failure and feeds
// into the same retry policy.
func NewClient(cfg *core.Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("transport"),
		userAgent:  fmt.Sprintf("signalpost-go/%s", core.Version),
	}
}

// Send delivers one record, optionally with attached files, to the
// given route. Validation and file checks run before any network
// attempt; a failure there produces zero attempts. With files present
// the body is multipart-encoded, otherwise plain JSON.
// On success the decoded response body is returned.
func (c *Client) Send(ctx context.Context, route string, record core.Record, files []string) (map[string]interface{}, error) {
	if record == nil {
		return nil, &core.Error{
			Op:      "transport.Send",
			Kind:    core.KindValidation,
			Message: "record is required",
			Err:     core.ErrValidation,
		}
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	if err := CheckFiles(files); err != nil {
		return nil, err
	}

	return c.post(ctx, route, record.Body(), files)
}

// SubmitUser delivers one user record
func (c *Client) SubmitUser(ctx context.Context, record *core.UserRecord, files ...string) (map[string]interface{}, error) {
	return c.Send(ctx, RouteUsers, record, files)
}

// SubmitEntry delivers one data entry
func (c *Client) SubmitEntry(ctx context.Context, entry *core.DataEntry, files ...string) (map[string]interface{}, error) {
	return c.Send(ctx, RouteEntries, entry, files)
}

// SubmitEvent delivers one instrumentation event
func (c *Client) SubmitEvent(ctx context.Context, event *core.Event) (map[string]interface{}, error) {
	return c.Send(ctx, RouteEvents, event, nil)
}

// SubmitErrorReport delivers one structured error report
func (c *Client) SubmitErrorReport(ctx context.Context, report *core.ErrorReport) (map[string]interface{}, error) {
	return c.Send(ctx, RouteErrors, report, nil)
}

// SubmitMetrics delivers one exposition snapshot
func (c *Client) SubmitMetrics(ctx context.Context, snapshot *core.MetricsSnapshot) (map[string]interface{}, error) {
	return c.Send(ctx, RouteMetrics, snapshot, nil)
}

// ListOptions are the query-style filters accepted by list operations
type ListOptions struct {
	Page     int
	Limit    int
	DataType core.DataType
	Tags     []string
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.DataType != "" {
		q.Set("type", string(o.DataType))
	}
	if len(o.Tags) > 0 {
		q.Set("tags", strings.Join(o.Tags, ","))
	}
	return q
}

// ListEntries queries submitted entries with pagination and optional
// type/tag filters. Tag sequences are joined by comma.
func (c *Client) ListEntries(ctx context.Context, opts ListOptions) (map[string]interface{}, error) {
	return c.get(ctx, RouteEntries, opts.query())
}

// ListFiles queries files previously attached to submissions
func (c *Client) ListFiles(ctx context.Context, opts ListOptions) (map[string]interface{}, error) {
	return c.get(ctx, RouteFiles, opts.query())
}

// HealthCheck pings the health route through the regular retry policy
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.get(ctx, RouteHealth, nil)
	return err
}

// RouteFor maps a record to the route its kind is submitted on
func RouteFor(record core.Record) string {
	switch record.RecordType() {
	case "user":
		return RouteUsers
	case "entry":
		return RouteEntries
	case "event":
		return RouteEvents
	case "error":
		return RouteErrors
	case "metrics":
		return RouteMetrics
	default:
		return RouteEntries
	}
}

func (c *Client) post(ctx context.Context, route string, payload map[string]interface{}, files []string) (map[string]interface{}, error) {
	var result map[string]interface{}
	err := c.withRetry(ctx, route, func() error {
		res, err := c.attempt(ctx, http.MethodPost, route, payload, files, nil)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, route string, query url.Values) (map[string]interface{}, error) {
	var result map[string]interface{}
	err := c.withRetry(ctx, route, func() error {
		res, err := c.attempt(ctx, http.MethodGet, route, nil, nil, query)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// withRetry applies the linear backoff policy uniformly. Validation
// failures surfacing mid-flight (a file vanishing between check and
// encode) are permanent and stop the loop; everything else retries up
// to the configured ceiling with the original error classification kept
// intact on the way out.
func (c *Client) withRetry(ctx context.Context, route string, fn func() error) error {
	attempt := 0
	return retry(ctx, c.cfg.RetryAttempts, c.cfg.RetryDelay, func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if core.IsValidation(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("request attempt failed",
			zap.String("route", route),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.RetryAttempts),
			zap.Error(err),
		)
		return err
	})
}

// attempt executes exactly one HTTP exchange and classifies its failure:
// a received non-success status, a sent-but-unanswered request, or a
// request that could not be constructed at all.
func (c *Client) attempt(ctx context.Context, method, route string, payload map[string]interface{}, files []string, query url.Values) (map[string]interface{}, error) {
	const op = "transport.attempt"

	var body io.Reader
	contentType := ""
	if payload != nil {
		if len(files) > 0 {
			buf, ct, err := encodeMultipart(payload, files)
			if err != nil {
				return nil, err
			}
			body = buf
			contentType = ct
		} else {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, &core.Error{Op: op, Kind: core.KindLocal, Message: "failed to encode request body", Err: err}
			}
			body = bytes.NewReader(data)
			contentType = "application/json"
		}
	}

	endpoint := c.cfg.BaseURL + route
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &core.Error{Op: op, Kind: core.KindLocal, Message: "failed to build request", Err: err}
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken())
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Service-Name", c.cfg.ServiceName)
	req.Header.Set("X-Service-Version", c.cfg.ServiceVersion)
	req.Header.Set("X-Service-Environment", c.cfg.Environment)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The request went out but no response arrived: connectivity
		// failure or per-attempt timeout.
		return nil, &core.Error{Op: op, Kind: core.KindNoResponse, Message: err.Error(), Err: core.ErrNoResponse}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.Error{Op: op, Kind: core.KindNoResponse, Message: "response body truncated", Err: core.ErrNoResponse}
	}

	if resp.StatusCode >= 400 {
		return nil, statusError(op, resp.StatusCode, data)
	}

	if len(data) == 0 {
		return map[string]interface{}{}, nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return map[string]interface{}{"raw": string(data)}, nil
	}
	return decoded, nil
}

// statusError builds the http_status classification, carrying the
// remote status and the structured error field of the body if present.
func statusError(op string, status int, body []byte) *core.Error {
	message := http.StatusText(status)
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err == nil {
		switch v := decoded["error"].(type) {
		case string:
			message = v
		case map[string]interface{}:
			if m, ok := v["message"].(string); ok {
				message = m
			}
		}
	}
	return &core.Error{
		Op:         op,
		Kind:       core.KindHTTPStatus,
		StatusCode: status,
		Message:    message,
		Err:        core.ErrRequestFailed,
	}
}
