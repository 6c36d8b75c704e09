package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/time/rate"

	"claude-proxy-go/internal/client"
	"claude-proxy-go/internal/config"
	"claude-proxy-go/internal/handler"
	"claude-proxy-go/internal/metrics"
	"claude-proxy-go/internal/middleware"
	"claude-proxy-go/internal/service"
	"claude-proxy-go/internal/token"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("claude-proxy"),
		kong.Description("Forwarding proxy for the Anthropic Messages API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			newTokenStore,
			client.NewAnthropicClient,
			service.NewProxyService,
			handler.NewMessagesHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// newMetrics builds the Prometheus registry, or nil when metrics are
// disabled. Consumers treat a nil *metrics.Metrics as "don't record".
func newMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

func newTokenStore(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (token.Store, error) {
	store, err := token.NewStore(strings.ToLower(cfg.Token.Backend), cfg.Token.Path)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	logger.Info("token store ready",
		"backend", cfg.Token.Backend,
		"path", cfg.Token.Path,
		"key", cfg.Token.Key,
	)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return store.Close() },
	})
	return store, nil
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.NewHTTPErrorHandler(logger)

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0) to avoid cutting off valid long-running streamed
	// responses. Protection is provided by the upstream client timeout, ReadTimeout,
	// and IdleTimeout.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.CORS())
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())
	if m != nil {
		e.Use(middleware.MetricsMiddleware(m))
	}

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	var challenge *http.Server

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if cfg.Server.TLS.Enabled {
				challenge = startAutoTLS(e, cfg, logger)
				return nil
			}

			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			if challenge != nil {
				_ = challenge.Shutdown(ctx)
			}
			return e.Shutdown(ctx)
		},
	})
}

// startAutoTLS serves HTTPS on :443 with ACME-managed certificates and runs
// a plain listener on :80 for HTTP-01 challenges (non-challenge traffic is
// redirected to HTTPS). Returns the challenge server so OnStop can shut it
// down alongside the Echo servers.
func startAutoTLS(e *echo.Echo, cfg *config.Config, logger *slog.Logger) *http.Server {
	mgr := &autocert.Manager{
		Cache:      autocert.DirCache(cfg.Server.TLS.CacheDir),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.Server.TLS.Domains...),
		Email:      cfg.Server.TLS.Email,
	}

	e.TLSServer.Addr = ":443"
	e.TLSServer.TLSConfig = &tls.Config{GetCertificate: mgr.GetCertificate, MinVersion: tls.VersionTLS12}
	e.TLSServer.ReadTimeout = e.Server.ReadTimeout
	e.TLSServer.WriteTimeout = e.Server.WriteTimeout
	e.TLSServer.IdleTimeout = e.Server.IdleTimeout
	e.TLSServer.ReadHeaderTimeout = e.Server.ReadHeaderTimeout

	challenge := &http.Server{
		Addr:              ":80",
		Handler:           mgr.HTTPHandler(nil),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("acme challenge listener started", "addr", challenge.Addr)
		if err := challenge.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("challenge server error", "err", err)
		}
	}()

	logger.Info("starting server with TLS",
		"addr", e.TLSServer.Addr,
		"domains", cfg.Server.TLS.Domains,
	)
	go func() {
		if err := e.TLSServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
		}
	}()

	return challenge
}
