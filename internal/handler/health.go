package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"claude-proxy-go/internal/config"
	"claude-proxy-go/internal/token"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	store   token.Store
	version Version
	started time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, store token.Store, v Version) *HealthHandler {
	return &HealthHandler{
		cfg:     cfg,
		store:   store,
		version: v,
		started: time.Now(),
	}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy build information and the state of the stored
// credential. The credential itself never appears in the response.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        string(h.version),
		"upstream_url":   h.cfg.Anthropic.BaseURL,
		"token_backend":  h.cfg.Token.Backend,
		"token_state":    h.tokenState(c.Request().Context()),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// tokenState classifies the stored credential without exposing it:
// "ok", "missing", "invalid", "expired", or "unavailable" when the store
// itself cannot be read.
func (h *HealthHandler) tokenState(ctx context.Context) string {
	raw, err := h.store.Get(ctx, h.cfg.Token.Key)
	if errors.Is(err, token.ErrNotFound) {
		return "missing"
	}
	if err != nil {
		return "unavailable"
	}

	cred, err := token.Parse(raw)
	if err != nil {
		return "invalid"
	}
	if cred.Expired(time.Now()) {
		return "expired"
	}
	return "ok"
}
