// Package httpx is the HTTP fetch layer shared by the source clients: it
// applies a per-request timeout, spaces out requests, retries transient
// failures with exponential backoff and maps failures onto the source error
// taxonomy.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/evcraddock/trackimmo/internal/config"
	"github.com/evcraddock/trackimmo/internal/logging"
	"github.com/evcraddock/trackimmo/internal/source"
)

// maxBodySize caps how much of a response is read.
const maxBodySize = 64 << 20

// StatusError is returned for non-success HTTP statuses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Unwrap makes every StatusError match source.ErrSourceUnavailable.
func (e *StatusError) Unwrap() error {
	return source.ErrSourceUnavailable
}

// IsNotFound reports whether err carries a 404 status.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Client performs GET requests against one upstream.
type Client struct {
	httpClient  *http.Client
	userAgent   string
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	minInterval time.Duration
	logger      *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// New creates a Client from the shared source settings.
func New(cfg config.Sources, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	var transport http.RoundTripper = http.DefaultTransport
	if cfg.LogHTTPRequests {
		transport = logging.NewRoundTripper(transport, logger)
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		httpClient:  &http.Client{Transport: transport},
		userAgent:   cfg.UserAgent,
		timeout:     cfg.Timeout,
		maxAttempts: attempts,
		baseDelay:   cfg.RetryBaseDelay,
		maxDelay:    cfg.RetryMaxDelay,
		minInterval: cfg.MinInterval,
		logger:      logger,
	}
}

// Get fetches url and returns the response body.
func (c *Client) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var body []byte
	attempt := 0

	op := func() error {
		attempt++
		b, err := c.do(ctx, url, header)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("retrying upstream request",
			"url", url,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"wait", wait.String(),
			logging.Err(err),
		)
	}

	if err := backoff.RetryNotify(op, c.backoff(ctx), notify); err != nil {
		return nil, err
	}
	return body, nil
}

// GetJSON fetches url and decodes the JSON body into v. Decoding failures are
// reported as source.ErrParse.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	header := http.Header{"Accept": {"application/json"}}
	body, err := c.Get(ctx, url, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", source.ErrParse, url, err)
	}
	return nil
}

func (c *Client) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.MaxInterval = c.maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
}

// do runs a single attempt. Errors that must not be retried are wrapped with
// backoff.Permanent.
func (c *Client) do(ctx context.Context, url string, header http.Header) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", source.ErrSourceUnavailable, err))
	}

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: GET %s: %w", source.ErrSourceUnavailable, url, err))
		}
		return nil, fmt.Errorf("%w: GET %s: %w", source.ErrSourceUnavailable, url, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("closing response body", logging.Err(closeErr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{URL: url, Code: resp.StatusCode}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if err := sleep(ctx, retryAfter(resp.Header.Get("Retry-After"))); err != nil {
				return nil, backoff.Permanent(statusErr)
			}
			return nil, statusErr
		case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode >= 500:
			return nil, statusErr
		default:
			return nil, backoff.Permanent(statusErr)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", source.ErrSourceUnavailable, url, err)
	}
	return body, nil
}

// wait enforces the minimum interval between two requests.
func (c *Client) wait(ctx context.Context) error {
	if c.minInterval <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elapsed := time.Since(c.last); elapsed < c.minInterval {
		if err := sleep(ctx, c.minInterval-elapsed); err != nil {
			return err
		}
	}
	c.last = time.Now()
	return nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
