// Package backend talks to the run-of-show service: REST for reads and mutations, a
// websocket for push notifications.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jdginn/showctl/engine"
	"github.com/jdginn/showctl/logging"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	maxBody               = 8 << 20
)

// HTTPError is a non-2xx reply. It matches engine.ErrBackendUnavailable.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, body)
}

func (e *HTTPError) Is(target error) bool {
	return target == engine.ErrBackendUnavailable
}

// Client implements engine.Backend over the service's REST API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	log     *slog.Logger
}

var _ engine.Backend = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		log:     logging.Get(logging.SYNC),
	}
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.BaseURL + "/api/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, u string, body any) ([]byte, int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode %s body: %w", u, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.log.Warn("request failed", "method", method, "url", u, "err", err)
		return nil, 0, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%s %s: read body: %w", method, u, err)
	}
	c.log.Debug("request done", "method", method, "url", u, "status", resp.StatusCode, "took", time.Since(start))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, resp.StatusCode, &HTTPError{Method: method, URL: u, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, resp.StatusCode, nil
}

func (c *Client) get(ctx context.Context, parts ...string) ([]byte, error) {
	data, _, err := c.do(ctx, http.MethodGet, c.endpoint(parts...), nil)
	return data, err
}

// getOptional treats 404 as an empty reply.
func (c *Client) getOptional(ctx context.Context, parts ...string) ([]byte, error) {
	data, status, err := c.do(ctx, http.MethodGet, c.endpoint(parts...), nil)
	if status == http.StatusNotFound {
		return nil, nil
	}
	return data, err
}

func (c *Client) post(ctx context.Context, body any, parts ...string) error {
	_, _, err := c.do(ctx, http.MethodPost, c.endpoint(parts...), body)
	return err
}

func (c *Client) ListEvents(ctx context.Context) ([]engine.EventSummary, error) {
	data, err := c.get(ctx, "calendar-events")
	if err != nil {
		return nil, err
	}
	return decodeEvents(data)
}

func (c *Client) Schedule(ctx context.Context, eventID string) ([]engine.ScheduleItem, error) {
	data, err := c.get(ctx, "run-of-show-data", eventID)
	if err != nil {
		return nil, err
	}
	return decodeSchedule(data)
}

func (c *Client) ActiveTimer(ctx context.Context, eventID string) (*engine.TimerRecord, error) {
	data, err := c.getOptional(ctx, "active-timers", eventID)
	if err != nil {
		return nil, err
	}
	return decodeActiveTimer(data)
}

func (c *Client) StartCueSelection(ctx context.Context, eventID string) (*int, error) {
	data, err := c.getOptional(ctx, "start-cue-selection", eventID)
	if err != nil {
		return nil, err
	}
	return decodeStartCue(data)
}

func (c *Client) LoadCue(ctx context.Context, req engine.LoadCueRequest) error {
	return c.post(ctx, req, "cues", "load")
}

func (c *Client) StartTimer(ctx context.Context, req engine.TimerRequest) error {
	return c.post(ctx, req, "timers", "start")
}

func (c *Client) StopTimer(ctx context.Context, req engine.TimerRequest) error {
	return c.post(ctx, req, "timers", "stop")
}

func (c *Client) ResetTimer(ctx context.Context, req engine.TimerRequest) error {
	return c.post(ctx, req, "timers", "reset")
}

func (c *Client) StartSubTimer(ctx context.Context, req engine.LoadCueRequest) error {
	return c.post(ctx, req, "sub-timers", "start")
}

func (c *Client) StopSubTimer(ctx context.Context, req engine.TimerRequest) error {
	return c.post(ctx, req, "sub-timers", "stop")
}

// Ping checks that the service answers at all.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "calendar-events")
	var herr *HTTPError
	if errors.As(err, &herr) && herr.StatusCode < 500 {
		return nil
	}
	return err
}
