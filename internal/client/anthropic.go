// Package client provides the upstream HTTP client for the Anthropic API.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"claude-proxy-go/internal/config"
	"claude-proxy-go/internal/metrics"
	"claude-proxy-go/internal/model"
)

// AnthropicClient sends requests to the upstream Anthropic API.
type AnthropicClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewAnthropicClient creates an AnthropicClient with connection pooling.
// There is no overall client timeout: a streamed response legitimately stays
// open far longer than any fixed deadline, so the configured timeout bounds
// the wait for upstream response headers instead.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewAnthropicClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *AnthropicClient {
	transport := &http.Transport{
		MaxIdleConns:          cfg.Anthropic.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Anthropic.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.Anthropic.TimeoutSeconds) * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &AnthropicClient{
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With("component", "anthropic_client"),
		metrics:    m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *AnthropicClient) Do(req *http.Request) (*model.UpstreamResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamDuration.Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Post issues a POST request and returns the response with its body still
// open. The caller is responsible for closing the body.
// The provided context controls the lifetime of the upstream request: when
// the context is canceled (e.g. client disconnects mid-stream), the upstream
// request and any in-flight body read are canceled with it.
func (c *AnthropicClient) Post(ctx context.Context, url string, header http.Header, body io.Reader) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	return c.Do(req)
}
