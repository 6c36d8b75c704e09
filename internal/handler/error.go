package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"claude-proxy-go/internal/middleware"
)

// Error codes carried in the envelope's error.type field.
const (
	codeNotFound     = "not_found"
	codeTokenMissing = "token_not_configured"
	codeTokenExpired = "token_expired"
	codeProxyError   = "proxy_error"
)

// apiError mirrors the upstream API's error envelope so clients can parse
// proxy-produced errors and upstream errors with the same code path.
type apiError struct {
	Type  string       `json:"type"`
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// writeAPIError writes a structured error response. Every error the proxy
// produces itself goes through here; upstream error responses bypass it and
// pass through verbatim.
func writeAPIError(c echo.Context, status int, code, message string) error {
	middleware.SetCORSHeaders(c.Response().Header())
	return c.JSON(status, apiError{
		Type:  "error",
		Error: apiErrorBody{Type: code, Message: message},
	})
}

// NewHTTPErrorHandler returns the Echo error handler for everything outside
// the registered routes. The proxy serves exactly one API route, so unknown
// paths and unsupported methods collapse into the same structured 404.
func NewHTTPErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			// The stream already started; failures past that point are
			// signaled on the transport, not with a response body.
			return
		}

		status := http.StatusBadGateway
		code := codeProxyError
		message := fmt.Sprintf("proxy request failed: %v", err)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			switch he.Code {
			case http.StatusNotFound, http.StatusMethodNotAllowed:
				status = http.StatusNotFound
				code = codeNotFound
				message = "not found: only POST /v1/messages is supported"
			default:
				status = he.Code
				code = codeForStatus(he.Code)
				message = fmt.Sprintf("%v", he.Message)
			}
		} else {
			logger.Error("unhandled error",
				"err", err,
				"path", c.Request().URL.Path,
			)
		}

		if werr := writeAPIError(c, status, code, message); werr != nil {
			logger.Error("writing error response", "err", werr)
		}
	}
}

// codeForStatus maps statuses produced by middleware (body limit, rate
// limiter) to stable envelope codes.
func codeForStatus(status int) string {
	switch status {
	case http.StatusRequestEntityTooLarge:
		return "request_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		if status >= http.StatusInternalServerError {
			return codeProxyError
		}
		return "invalid_request"
	}
}
