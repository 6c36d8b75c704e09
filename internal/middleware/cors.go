package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// CORS returns an Echo middleware that applies the proxy's fixed CORS
// policy to every response. Browser clients call the proxy from arbitrary
// origins, so the policy never varies per request.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			SetCORSHeaders(c.Response().Header())
			return next(c)
		}
	}
}

// SetCORSHeaders applies the fixed CORS policy to h. Handlers that write
// responses outside the normal chain use it so error responses carry the
// same headers as regular ones.
func SetCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}
