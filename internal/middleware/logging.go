// Package middleware provides the Echo middleware chain for the proxy:
// request logging, CORS, security headers and Prometheus instrumentation.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// quietPaths are probe endpoints excluded from request logging. Health
// checks and metrics scrapes arrive every few seconds and would drown out
// the relay traffic.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// RequestLogger returns an Echo middleware that logs one line per request.
// For streamed responses the duration spans the whole relay, not the time
// to first byte, and bytes_out counts everything pushed to the client.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			if quietPaths[req.URL.Path] {
				return err
			}

			// 5xx covers both proxy failures and upstream errors relayed
			// verbatim; either way it deserves more than Info.
			level := slog.LevelInfo
			if res.Status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}

			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
