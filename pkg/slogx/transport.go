package slogx

import (
	"log/slog"
	"net/http"
	"time"
)

// Transport logs outbound requests at debug level. Only method, host, path,
// status and duration are recorded; headers never are, since they carry
// bearer tokens.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	log := t.Logger
	if log == nil {
		log = FromContext(req.Context())
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	attrs := []any{
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		log.Debug("outbound_request_failed", append(attrs, "error", err)...)
		return nil, err
	}

	log.Debug("outbound_request", append(attrs, "status", resp.StatusCode)...)
	return resp, nil
}
