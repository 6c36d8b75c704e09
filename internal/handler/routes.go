// Package handler provides the HTTP handlers for the proxy.
package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"claude-proxy-go/internal/config"
	"claude-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The
// metrics route is only registered when a registry was built (metrics
// enabled in config).
func RegisterRoutes(e *echo.Echo, cfg *config.Config, messages *MessagesHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.POST("/v1/messages", messages.Handle)
	e.OPTIONS("/v1/messages", messages.Preflight)

	if m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
