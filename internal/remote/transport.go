package remote

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// loggingTransport tags outgoing requests with a request ID and logs method,
// URL, latency and status. Bodies are never logged: they carry voice audio.
type loggingTransport struct {
	base http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	id := req.Header.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
		req = req.Clone(req.Context())
		req.Header.Set(requestIDHeader, id)
	}

	slog.Debug("Remote request", "method", req.Method, "url", req.URL.String(), "request_id", id)

	rt := t.base
	if rt == nil {
		rt = http.DefaultTransport
	}
	resp, err := rt.RoundTrip(req)
	if err != nil {
		slog.Debug("Remote request failed", "request_id", id, "error", err, "elapsed", time.Since(start))
		return resp, err
	}

	slog.Debug("Remote response", "request_id", id, "status", resp.StatusCode, "elapsed", time.Since(start))
	return resp, nil
}
