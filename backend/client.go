// Package backend is the HTTP client for the security backend's dashboard API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"vigil/core"
	"vigil/metrics"
)

// Config configures the backend client.
type Config struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	CircuitBreaker    BreakerConfig `mapstructure:"circuit_breaker"`
}

// DefaultConfig returns defaults for a backend on localhost.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://localhost:8000",
		Timeout:           10 * time.Second,
		RequestsPerSecond: 20,
		Burst:             40,
		MaxBodyBytes:      4 << 20,
		CircuitBreaker:    DefaultBreakerConfig(),
	}
}

var collectionPaths = map[core.Collection]string{
	core.CollectionStats:   "/dashboard/stats",
	core.CollectionThreats: "/threats",
	core.CollectionLogs:    "/logs",
	core.CollectionAlerts:  "/alerts",
}

// Client issues snapshot fetches and mutation commands. Safe for concurrent use.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	breaker *Breaker
	logger  *zap.SugaredLogger
}

// New creates a client for cfg.BaseURL.
func New(cfg Config, logger *zap.SugaredLogger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.RequestsPerSecond <= 0 || cfg.Burst <= 0 {
		return nil, errors.New("backend rate limit must be positive")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	breaker, err := NewBreaker(cfg.CircuitBreaker)
	if err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: breaker,
		logger:  logger,
	}, nil
}

// FetchCollection returns the raw body of a collection endpoint.
func (c *Client) FetchCollection(ctx context.Context, collection core.Collection) ([]byte, error) {
	path, ok := collectionPaths[collection]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	return c.do(ctx, "fetch_"+collection.String(), http.MethodGet, path, nil, "")
}

// RespondToThreat asks the backend to run a response playbook for a threat.
func (c *Client) RespondToThreat(ctx context.Context, id core.ID, action, requestID string) error {
	body, err := json.Marshal(map[string]string{"action": action})
	if err != nil {
		return err
	}
	path := "/threats/" + url.PathEscape(id.String()) + "/respond"
	return c.mutate(ctx, "respond_threat", http.MethodPost, path, body, requestID)
}

// MarkAlertRead marks an alert read on the backend.
func (c *Client) MarkAlertRead(ctx context.Context, id core.ID, requestID string) error {
	path := "/alerts/" + url.PathEscape(id.String()) + "/read"
	return c.mutate(ctx, "mark_alert_read", http.MethodPut, path, nil, requestID)
}

// BreakerState exposes the mutation breaker for health reporting.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

func (c *Client) mutate(ctx context.Context, op, method, path string, body []byte, requestID string) error {
	if err := c.breaker.Allow(); err != nil {
		return &core.TransportError{Op: op, Err: err}
	}

	_, err := c.do(ctx, op, method, path, body, requestID)

	// a canceled caller says nothing about backend health
	success := err == nil || errors.Is(err, context.Canceled)
	if before, after := c.breaker.Record(success); before != after {
		c.logger.Warnw("Backend mutation circuit breaker changed state",
			"from", before, "to", after, "op", op)
	}
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, requestID string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &core.TransportError{Op: op, Err: err}
	}

	endpoint := c.base.JoinPath(path)
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, &core.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.BackendRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackendRequests.WithLabelValues(op, "error").Inc()
		return nil, &core.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	metrics.BackendRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, &core.TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(data)) > c.cfg.MaxBodyBytes {
		return nil, &core.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("response body exceeds %d bytes", c.cfg.MaxBodyBytes),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &core.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(summarize(data)),
		}
	}

	c.logger.Debugw("Backend request completed",
		"op", op, "status", resp.StatusCode, "request_id", requestID, "bytes", len(data))
	return data, nil
}

// summarize extracts a FastAPI style {"detail": ...} message, or a bounded
// prefix of the body.
func summarize(body []byte) string {
	var detail struct {
		Detail interface{} `json:"detail"`
	}
	if err := json.Unmarshal(body, &detail); err == nil && detail.Detail != nil {
		return fmt.Sprint(detail.Detail)
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	if text == "" {
		return "empty response"
	}
	return text
}
