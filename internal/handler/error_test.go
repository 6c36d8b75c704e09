package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

func newErrorEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = NewHTTPErrorHandler(testLogger())
	return e
}

func TestHTTPErrorHandler_UnknownRoute(t *testing.T) {
	e := newErrorEcho()

	req := httptest.NewRequest(http.MethodGet, "/nope", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	envelope := decodeAPIError(t, rec.Body.Bytes())
	if envelope.Error.Type != "not_found" {
		t.Errorf("error.type = %q, want %q", envelope.Error.Type, "not_found")
	}
	if !strings.Contains(envelope.Error.Message, "POST /v1/messages") {
		t.Errorf("error.message = %q, want a hint at the supported route", envelope.Error.Message)
	}
	// Error responses carry the CORS policy even when the middleware chain
	// never ran for the route.
	assertCORSHeaders(t, rec.Header())
}

func TestHTTPErrorHandler_MethodNotAllowedFoldsTo404(t *testing.T) {
	e := newErrorEcho()
	e.POST("/v1/messages", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/messages", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d (405 folds into 404)", rec.Code, http.StatusNotFound)
	}
	envelope := decodeAPIError(t, rec.Body.Bytes())
	if envelope.Error.Type != "not_found" {
		t.Errorf("error.type = %q, want %q", envelope.Error.Type, "not_found")
	}
}

func TestHTTPErrorHandler_BodyLimit(t *testing.T) {
	e := newErrorEcho()
	e.Use(echomw.BodyLimit("8B"))
	e.POST("/v1/messages", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages",
		strings.NewReader(`{"model":"claude-sonnet-4","messages":[]}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
	envelope := decodeAPIError(t, rec.Body.Bytes())
	if envelope.Error.Type != "request_too_large" {
		t.Errorf("error.type = %q, want %q", envelope.Error.Type, "request_too_large")
	}
}

func TestHTTPErrorHandler_GenericError(t *testing.T) {
	e := newErrorEcho()
	e.GET("/boom", func(echo.Context) error {
		return errors.New("kaboom")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	envelope := decodeAPIError(t, rec.Body.Bytes())
	if envelope.Error.Type != "proxy_error" {
		t.Errorf("error.type = %q, want %q", envelope.Error.Type, "proxy_error")
	}
	if want := "proxy request failed: kaboom"; envelope.Error.Message != want {
		t.Errorf("error.message = %q, want %q", envelope.Error.Message, want)
	}
}

func TestHTTPErrorHandler_HTTPErrorKeepsStatus(t *testing.T) {
	e := newErrorEcho()
	e.GET("/teapot", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "short and stout")
	})

	req := httptest.NewRequest(http.MethodGet, "/teapot", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	envelope := decodeAPIError(t, rec.Body.Bytes())
	if envelope.Error.Type != "invalid_request" {
		t.Errorf("error.type = %q, want %q", envelope.Error.Type, "invalid_request")
	}
	if envelope.Error.Message != "short and stout" {
		t.Errorf("error.message = %q, want the handler's message", envelope.Error.Message)
	}
}

func TestHTTPErrorHandler_RateLimited(t *testing.T) {
	e := newErrorEcho()
	e.GET("/limited", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	})

	req := httptest.NewRequest(http.MethodGet, "/limited", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	envelope := decodeAPIError(t, rec.Body.Bytes())
	if envelope.Error.Type != "rate_limited" {
		t.Errorf("error.type = %q, want %q", envelope.Error.Type, "rate_limited")
	}
}

func TestHTTPErrorHandler_CommittedResponse(t *testing.T) {
	e := newErrorEcho()
	e.GET("/committed", func(c echo.Context) error {
		if err := c.String(http.StatusOK, "partial"); err != nil {
			return err
		}
		return errors.New("too late")
	})

	req := httptest.NewRequest(http.MethodGet, "/committed", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	// Once the response is committed no envelope may be appended; the error
	// is only logged.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "partial" {
		t.Errorf("body = %q, want the committed body untouched", rec.Body.String())
	}
}

func TestCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusRequestEntityTooLarge, "request_too_large"},
		{http.StatusTooManyRequests, "rate_limited"},
		{http.StatusInternalServerError, "proxy_error"},
		{http.StatusBadGateway, "proxy_error"},
		{http.StatusBadRequest, "invalid_request"},
		{http.StatusTeapot, "invalid_request"},
	}

	for _, tt := range tests {
		if got := codeForStatus(tt.status); got != tt.want {
			t.Errorf("codeForStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
