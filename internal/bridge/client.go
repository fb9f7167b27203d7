// Package bridge fetches raw odds pools from the external odds-bridge service.
package bridge

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

	"github.com/sirupsen/logrus"

	"github.com/yourusername/trio-odds/internal/config"
	"github.com/yourusername/trio-odds/internal/metrics"
	"github.com/yourusername/trio-odds/internal/odds"
)

const (
	apiKeyHeader = "X-API-Key"
	maxBodyBytes = 4 << 20
)

// Client talks to the odds bridge
type Client struct {
	baseURL string
	apiKey  string
	http    *RateLimitedHTTPClient
	logger  *logrus.Entry
}

// NewClient creates a bridge client. baseURL has no default and must be set.
func NewClient(baseURL, apiKey string, httpCfg HTTPClientConfig, logger *logrus.Logger) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("bridge base URL is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid bridge base URL %q", baseURL)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    NewRateLimitedHTTPClient(httpCfg, logger),
		logger:  logger.WithField("component", "bridge"),
	}, nil
}

// NewClientFromConfig builds a client from the bridge section of the configuration
func NewClientFromConfig(cfg config.BridgeConfig, logger *logrus.Logger) (*Client, error) {
	httpCfg := DefaultHTTPClientConfig()
	httpCfg.Timeout = cfg.Timeout()
	httpCfg.MaxRetries = cfg.RetryAttempts
	httpCfg.RateLimit = cfg.RateLimit
	httpCfg.CircuitBreakerMax = cfg.CircuitBreakerMax
	return NewClient(cfg.BaseURL, cfg.APIKey, httpCfg, logger)
}

// FetchPool returns the raw odds pool of one market for a race
func (c *Client) FetchPool(ctx context.Context, raceKey string, market odds.Market) (odds.Pool, error) {
	start := time.Now()
	pool, err := c.fetchPool(ctx, raceKey, market)

	outcome := "ok"
	var bErr *Error
	if errors.As(err, &bErr) {
		outcome = bErr.Code
	}
	metrics.RecordBridgeRequest(market.String(), outcome, time.Since(start).Seconds())
	if err == nil {
		metrics.RecordPoolSize(len(pool))
	}
	return pool, err
}

func (c *Client) fetchPool(ctx context.Context, raceKey string, market odds.Market) (odds.Pool, error) {
	endpoint := fmt.Sprintf("%s/odds/%s/%s", c.baseURL, url.PathEscape(market.String()), url.PathEscape(raceKey))

	resp, err := c.http.Get(ctx, endpoint, c.header())
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, newError(ErrCodeCircuitOpen, raceKey, 0, err)
		}
		return nil, newError(ErrCodeNetworkError, raceKey, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, newError(ErrCodeNetworkError, raceKey, resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errorForStatus(raceKey, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	pool, dropped, err := decodePool(body)
	if err != nil {
		return nil, newError(ErrCodeInvalidData, raceKey, resp.StatusCode, err)
	}
	if dropped > 0 {
		c.logger.WithFields(logrus.Fields{
			"race_key": raceKey,
			"market":   market.String(),
			"dropped":  dropped,
		}).Warn("Dropped non-numeric odds values from bridge payload")
	}
	return pool, nil
}

// Ping checks that the bridge is reachable
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.Get(ctx, c.baseURL+"/health", c.header())
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return newError(ErrCodeCircuitOpen, "", 0, err)
		}
		return newError(ErrCodeNetworkError, "", 0, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode >= 300 {
		return errorForStatus("", resp.StatusCode, "")
	}
	return nil
}

// Close releases idle connections
func (c *Client) Close() error {
	return c.http.Close()
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if c.apiKey != "" {
		h.Set(apiKeyHeader, c.apiKey)
	}
	return h
}

// decodePool accepts either a bare key->odds object or one wrapped in {"odds": {...}}.
// Values may be JSON numbers or numeric strings; anything else is dropped.
func decodePool(body []byte) (odds.Pool, int, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode odds payload: %w", err)
	}

	if inner, ok := raw["odds"]; ok && len(raw) == 1 {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(inner, &wrapped); err != nil {
			return nil, 0, fmt.Errorf("decode odds payload: %w", err)
		}
		raw = wrapped
	}

	pool := make(odds.Pool, len(raw))
	dropped := 0
	for key, value := range raw {
		v, ok := parseOddsValue(value)
		if !ok {
			dropped++
			continue
		}
		pool[key] = v
	}
	return pool, dropped, nil
}

func parseOddsValue(raw json.RawMessage) (float64, bool) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
