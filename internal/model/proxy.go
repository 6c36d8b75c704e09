// Package model defines shared types for the proxy.
package model

import (
	"io"
	"mime"
	"net/http"
	"strings"
)

// UpstreamResponse represents the upstream response to be relayed back.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// EventStream reports whether the upstream replied with a server-sent-event
// body. The relay mode follows what the upstream actually sent, not what the
// client asked for: an upstream may answer a stream request with a plain
// JSON error, or stream where the client forgot to ask.
func (r *UpstreamResponse) EventStream() bool {
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(strings.ToLower(ct), "text/event-stream")
	}
	return mediaType == "text/event-stream"
}

// RelayMode says how an upstream response is sent back to the client.
type RelayMode string

// Relay modes.
const (
	RelayJSON   RelayMode = "json"
	RelayStream RelayMode = "stream"
)
