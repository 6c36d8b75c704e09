package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"claude-proxy-go/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus
// metrics for each inbound request. Recording runs in a defer so a relay
// aborted mid-stream (which panics with http.ErrAbortHandler) is still
// counted, under the status it committed before dying, with the duration
// covering the whole relay.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			m.RequestsInFlight.Inc()
			start := time.Now()

			defer func() {
				m.RequestsInFlight.Dec()

				// When a handler returns an *echo.HTTPError the response
				// status is not written yet; the central error handler does
				// that after this middleware unwinds. Take the code from
				// the error instead.
				statusCode := c.Response().Status
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}

				status := strconv.Itoa(statusCode)
				method := metrics.NormalizeMethod(c.Request().Method)
				path := metrics.NormalizePath(c.Request().URL.Path)

				m.RequestsTotal.WithLabelValues(method, status, path).Inc()
				m.RequestDuration.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())
			}()

			err = next(c)
			return err
		}
	}
}
