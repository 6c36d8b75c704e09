// Package service implements the core proxy forwarding logic.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"claude-proxy-go/internal/client"
	"claude-proxy-go/internal/config"
	"claude-proxy-go/internal/model"
	"claude-proxy-go/internal/token"
)

// ErrTokenMissing is returned when the store holds no usable credential.
var ErrTokenMissing = errors.New("no token configured: run the /get-token setup flow first")

// ErrTokenExpired is returned when the stored credential is past its expiry.
var ErrTokenExpired = errors.New("token expired: run the /get-token setup flow to refresh it")

// allowedUpstreamHosts restricts which hosts the proxy will forward to.
var allowedUpstreamHosts = map[string]bool{
	"api.anthropic.com": true,
}

// messagesPath is the single upstream endpoint this proxy forwards to.
const messagesPath = "/v1/messages"

const userAgent = "claude-proxy-go/1.0"

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.AnthropicClient
	store   token.Store
	cfg     *config.Config
	logger  *slog.Logger
	baseURL *url.URL
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.AnthropicClient, store token.Store, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Anthropic.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse anthropic base_url: %w", err)
	}

	if !allowedUpstreamHosts[u.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", u.Hostname())
	}

	return &ProxyService{
		client:  c,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
	}, nil
}

// NewProxyServiceForTest creates a ProxyService without host allowlist validation.
// This is intended only for tests that use httptest servers on localhost.
func NewProxyServiceForTest(c *client.AnthropicClient, store token.Store, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Anthropic.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse anthropic base_url: %w", err)
	}

	return &ProxyService{
		client:  c,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
	}, nil
}

// Forward loads the stored credential and sends body to the upstream
// messages endpoint. The body is forwarded verbatim; no fields are added,
// removed or rewritten. The caller is responsible for closing the response
// body.
//
// A single attempt is made per call. Retry policy belongs to the caller or
// to the external token-setup flow, not here.
func (s *ProxyService) Forward(ctx context.Context, body []byte) (*model.UpstreamResponse, error) {
	cred, err := s.loadCredential(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding request", "bytes_in", len(body))

	resp, err := s.client.Post(ctx, s.messagesURL(), s.upstreamHeader(cred.AccessToken), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	return resp, nil
}

// loadCredential fetches and validates the stored credential. The store is
// read on every request so a token refreshed by the external setup flow is
// picked up without a restart.
func (s *ProxyService) loadCredential(ctx context.Context) (token.Credential, error) {
	raw, err := s.store.Get(ctx, s.cfg.Token.Key)
	if errors.Is(err, token.ErrNotFound) {
		return token.Credential{}, ErrTokenMissing
	}
	if err != nil {
		return token.Credential{}, fmt.Errorf("read token store: %w", err)
	}

	cred, err := token.Parse(raw)
	if err != nil {
		s.logger.Warn("stored credential is malformed; treating as unconfigured", "error", err)
		return token.Credential{}, ErrTokenMissing
	}

	if cred.Expired(time.Now()) {
		return token.Credential{}, ErrTokenExpired
	}
	return cred, nil
}

// upstreamHeader builds the outbound header set: bearer authorization plus
// the fixed Anthropic protocol headers.
func (s *ProxyService) upstreamHeader(accessToken string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+accessToken)
	h.Set("Content-Type", "application/json")
	h.Set("anthropic-version", s.cfg.Anthropic.APIVersion)
	h.Set("anthropic-beta", s.cfg.Anthropic.Beta)
	h.Set("User-Agent", userAgent)
	return h
}

func (s *ProxyService) messagesURL() string {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + messagesPath
	return u.String()
}
