// Package tvg fetches the open race schedule from the TVG GraphQL service.
package tvg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"race-sync-service/internal/config"
	"race-sync-service/internal/logger"
)

const (
	DefaultURL          = "https://service.tvg.com/graph/v2/query"
	DefaultWagerProfile = "PORT-NY"
	defaultTimeout      = 30 * time.Second
)

// maxErrorBody caps how much of a failed response is kept in a FetchError.
const maxErrorBody = 4 << 10

// FetchError is a non-2xx response from the schedule endpoint.
type FetchError struct {
	StatusCode int
	Body       string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("schedule request failed: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

type Client struct {
	url          string
	wagerProfile string
	httpClient   *http.Client
	limiter      *rate.Limiter
}

// NewClient builds a client from cfg. A zero rate limit means unlimited.
func NewClient(cfg config.FetchConfig) *Client {
	c := &Client{
		url:          cfg.URL,
		wagerProfile: cfg.WagerProfile,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		limiter:      rate.NewLimiter(rate.Inf, 1),
	}
	if c.url == "" {
		c.url = DefaultURL
	}
	if c.wagerProfile == "" {
		c.wagerProfile = DefaultWagerProfile
	}
	if c.httpClient.Timeout == 0 {
		c.httpClient.Timeout = defaultTimeout
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

// FetchSchedule posts the schedule query and returns the raw JSON payload.
func (c *Client) FetchSchedule(ctx context.Context) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(scheduleRequest(c.wagerProfile))
	if err != nil {
		return nil, fmt.Errorf("encode schedule query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	logger.Log.Info("Fetching races from tvg", zap.String("url", c.url), zap.String("wager_profile", c.wagerProfile))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("schedule request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &FetchError{StatusCode: resp.StatusCode, Body: string(msg)}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read schedule response: %w", err)
	}
	return payload, nil
}
