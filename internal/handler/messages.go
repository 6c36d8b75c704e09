package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"claude-proxy-go/internal/metrics"
	"claude-proxy-go/internal/model"
	"claude-proxy-go/internal/service"
)

// streamBufSize is the read buffer size for the streaming relay.
const streamBufSize = 32 * 1024

// MessagesHandler forwards message requests to the upstream API and relays
// the response back, buffered for JSON bodies and chunk-by-chunk for event
// streams.
type MessagesHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewMessagesHandler creates a MessagesHandler. The metrics parameter is
// optional; pass nil to disable relay metrics.
func NewMessagesHandler(svc *service.ProxyService, logger *slog.Logger, m *metrics.Metrics) *MessagesHandler {
	return &MessagesHandler{
		service: svc,
		logger:  logger.With("component", "messages_handler"),
		metrics: m,
	}
}

// Handle forwards the request body to the upstream messages endpoint and
// relays the response. The relay mode follows the upstream response
// Content-Type: an event stream is copied chunk by chunk, everything else
// is buffered and re-emitted whole.
func (h *MessagesHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return h.mapError(c, fmt.Errorf("read request body: %w", err))
	}

	resp, err := h.service.Forward(req.Context(), body)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if want := streamRequested(body); want != resp.EventStream() {
		h.logger.Debug("relay mode differs from requested stream flag",
			"stream_requested", want,
			"upstream_content_type", resp.Header.Get(echo.HeaderContentType),
		)
	}

	if resp.EventStream() {
		return h.relayStream(c, resp)
	}
	return h.relayJSON(c, resp)
}

// Preflight answers CORS preflight requests for the messages route. The
// CORS headers themselves come from the middleware chain.
func (h *MessagesHandler) Preflight(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// relayJSON buffers the whole upstream body and re-emits it with the
// upstream's status code. Upstream error responses take this path too:
// their status and payload pass through verbatim so clients can diagnose
// them directly.
func (h *MessagesHandler) relayJSON(c echo.Context, resp *model.UpstreamResponse) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return h.mapError(c, fmt.Errorf("read upstream response: %w", err))
	}

	h.countRelay(model.RelayJSON, resp.StatusCode)
	return c.Blob(resp.StatusCode, echo.MIMEApplicationJSON, body)
}

// relayStream copies the upstream event stream to the client one chunk at a
// time. Each chunk is written and flushed before the next upstream read, so
// events reach the client as the upstream produces them. The loop ends only
// when the upstream closes the stream or the client goes away.
func (h *MessagesHandler) relayStream(c echo.Context, resp *model.UpstreamResponse) error {
	res := c.Response()
	header := res.Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	res.WriteHeader(resp.StatusCode)
	res.Flush()
	h.countRelay(model.RelayStream, resp.StatusCode)

	var relayed int64
	buf := make([]byte, streamBufSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := res.Write(buf[:n]); writeErr != nil {
				h.logger.Debug("client write failed mid-stream",
					"err", writeErr,
					"bytes_relayed", relayed,
				)
				return nil
			}
			res.Flush()
			relayed += int64(n)
			if h.metrics != nil {
				h.metrics.StreamBytesRelayed.Add(float64(n))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				h.logger.Debug("stream complete", "bytes_relayed", relayed)
				return nil
			}
			if errors.Is(readErr, context.Canceled) {
				h.logger.Debug("client disconnected mid-stream", "bytes_relayed", relayed)
				return nil
			}
			// The status line is long gone, so a structured error response
			// is impossible. Abort the connection instead: the client sees
			// a transport failure rather than a cleanly ended stream.
			h.logger.Error("upstream read failed mid-stream",
				"err", readErr,
				"bytes_relayed", relayed,
			)
			panic(http.ErrAbortHandler)
		}
	}
}

func (h *MessagesHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrTokenMissing) {
		return writeAPIError(c, http.StatusUnauthorized, codeTokenMissing, err.Error())
	}
	if errors.Is(err, service.ErrTokenExpired) {
		return writeAPIError(c, http.StatusUnauthorized, codeTokenExpired, err.Error())
	}

	return writeAPIError(c, http.StatusBadGateway, codeProxyError,
		fmt.Sprintf("proxy request failed: %v", err))
}

func (h *MessagesHandler) countRelay(mode model.RelayMode, status int) {
	if h.metrics != nil {
		h.metrics.RelaysTotal.WithLabelValues(string(mode), strconv.Itoa(status)).Inc()
	}
}

// streamRequested pulls the stream flag out of the request body for
// logging. Parse failures are ignored: the body is forwarded verbatim
// either way, and the relay mode follows the upstream response.
func streamRequested(body []byte) bool {
	var probe struct {
		Stream bool `json:"stream"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Stream
}
