package logging

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"
)

// RoundTripper logs outbound HTTP requests.
type RoundTripper struct {
	next   http.RoundTripper
	logger *slog.Logger
}

// NewRoundTripper wraps next. A nil next uses http.DefaultTransport and a nil
// logger uses slog.Default at call time.
func NewRoundTripper(next http.RoundTripper, logger *slog.Logger) *RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &RoundTripper{next: next, logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	logger := rt.logger
	if logger == nil {
		logger = slog.Default()
	}

	requestID := xid.New().String()
	start := time.Now()

	resp, err := rt.next.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		logger.LogAttrs(req.Context(), slog.LevelWarn, "upstream request failed",
			slog.String("request_id", requestID),
			slog.String("method", req.Method),
			slog.String("host", req.URL.Host),
			slog.String("path", req.URL.Path),
			slog.String("duration", duration.String()),
			Err(err),
		)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 500 {
		level = slog.LevelWarn
	} else if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		level = slog.LevelInfo
	}

	logger.LogAttrs(req.Context(), level, "upstream request",
		slog.String("request_id", requestID),
		slog.String("method", req.Method),
		slog.String("host", req.URL.Host),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.String("duration", duration.String()),
	)

	return resp, nil
}
