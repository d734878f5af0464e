// Package reader captures one-off samples from vendor endpoints: a single
// REST response or a bounded number of WebSocket messages. It never keeps a
// subscription open.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	appconfig "exchangecatalog/config"
	"exchangecatalog/logger"
)

// maxBodyBytes caps a captured REST response.
const maxBodyBytes = 8 << 20

var ErrStatus = errors.New("unexpected HTTP status")

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

// Client fetches samples under a shared rate limit.
type Client struct {
	config  appconfig.ReaderConfig
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func NewClient(cfg appconfig.ReaderConfig) *Client {
	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var transport http.RoundTripper = http.DefaultTransport
	if cfg.UserAgent != "" {
		transport = userAgentTransport{agent: cfg.UserAgent, base: transport}
	}

	return &Client{
		config:  cfg,
		http:    &http.Client{Transport: transport, Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger(),
	}
}

// FetchREST performs one GET and returns the body.
func (c *Client) FetchREST(ctx context.Context, url string) ([]byte, error) {
	log := c.log.WithComponent("reader").WithFields(logger.Fields{"url": url, "operation": "fetch_rest"})

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	logger.LogPerformanceEntry(log, "reader", "api_request", time.Since(start), logger.Fields{
		"status": resp.StatusCode,
		"bytes":  len(body),
	})
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d from %s", ErrStatus, resp.StatusCode, url)
	}
	return body, nil
}
