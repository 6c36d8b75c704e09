package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"claude-proxy-go/internal/config"
	"claude-proxy-go/internal/token"
)

// brokenStore simulates a storage backend that cannot be read.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, error) {
	return "", errors.New("disk offline")
}
func (brokenStore) Set(context.Context, string, string) error { return errors.New("disk offline") }
func (brokenStore) Close() error                              { return nil }

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(&config.Config{}, token.NewMemStore(), "test")
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	cfg := &config.Config{
		Anthropic: config.AnthropicConfig{BaseURL: "https://api.anthropic.com"},
		Token:     config.TokenConfig{Backend: "memory", Key: "claude_token"},
	}
	store := token.NewMemStore()
	future := time.Now().Add(time.Hour).Unix()
	if err := store.Set(context.Background(), "claude_token",
		`{"access_token":"sk-ant-oat01-secret","expires_at":`+strconv.FormatInt(future, 10)+`}`); err != nil {
		t.Fatal(err)
	}

	h := NewHealthHandler(cfg, store, "1.2.3")
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body.status = %v, want %q", body["status"], "ok")
	}
	if body["version"] != "1.2.3" {
		t.Errorf("body.version = %v, want %q", body["version"], "1.2.3")
	}
	if body["upstream_url"] != "https://api.anthropic.com" {
		t.Errorf("body.upstream_url = %v, want %q", body["upstream_url"], "https://api.anthropic.com")
	}
	if body["token_backend"] != "memory" {
		t.Errorf("body.token_backend = %v, want %q", body["token_backend"], "memory")
	}
	if body["token_state"] != "ok" {
		t.Errorf("body.token_state = %v, want %q", body["token_state"], "ok")
	}
	// The credential itself must never leak into the status payload.
	if raw := rec.Body.String(); strings.Contains(raw, "sk-ant-oat01-secret") {
		t.Errorf("status body leaks the stored credential: %s", raw)
	}
}

func TestStatus_TokenStates(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		store token.Store
		seed  string
		want  string
	}{
		{name: "missing", store: token.NewMemStore(), want: "missing"},
		{
			name:  "invalid",
			store: token.NewMemStore(),
			seed:  "not a credential",
			want:  "invalid",
		},
		{
			name:  "expired",
			store: token.NewMemStore(),
			seed:  `{"access_token":"tok","expires_at":` + strconv.FormatInt(now.Add(-time.Hour).Unix(), 10) + `}`,
			want:  "expired",
		},
		{
			name:  "ok",
			store: token.NewMemStore(),
			seed:  `{"access_token":"tok","expires_at":` + strconv.FormatInt(now.Add(time.Hour).Unix(), 10) + `}`,
			want:  "ok",
		},
		{name: "unavailable", store: brokenStore{}, want: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.seed != "" {
				if err := tt.store.Set(context.Background(), "claude_token", tt.seed); err != nil {
					t.Fatal(err)
				}
			}

			cfg := &config.Config{Token: config.TokenConfig{Key: "claude_token"}}
			h := NewHealthHandler(cfg, tt.store, "test")

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.Status(c); err != nil {
				t.Fatalf("Status() error = %v", err)
			}

			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body["token_state"] != tt.want {
				t.Errorf("token_state = %v, want %q", body["token_state"], tt.want)
			}
		})
	}
}
