// Package fetch provides a retrying HTTP client for remote asset access.
//
// Transient failures (timeouts, connection resets, 429 and 5xx responses)
// are retried with exponential backoff; other client errors fail
// immediately. All waits respect context cancellation.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ErrTransient marks a failure that exhausted its retry attempts. Callers
// may treat the underlying asset as temporarily unavailable rather than
// corrupt.
var ErrTransient = errors.New("transient remote failure")

// StatusError reports a non-success HTTP status.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned status %d for %s", e.Code, e.URL)
}

// RetryPolicy bounds the retry loop.
type RetryPolicy struct {
	// Tries is the total number of attempts, including the first.
	Tries int
	// Delay is the wait before the second attempt.
	Delay time.Duration
	// Backoff multiplies the delay after each failed attempt.
	Backoff float64
}

// DefaultRetryPolicy matches the engine defaults: three attempts with a
// one second initial delay doubling each time.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Tries: 3, Delay: time.Second, Backoff: 2}
}

// Client is a retrying HTTP client.
type Client struct {
	httpClient *http.Client
	policy     RetryPolicy
	logger     *slog.Logger
}

// NewClient creates a client with the given timeout and retry policy.
func NewClient(timeout time.Duration, policy RetryPolicy) *Client {
	if policy.Tries < 1 {
		policy.Tries = 1
	}
	if policy.Backoff < 1 {
		policy.Backoff = 1
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		policy: policy,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// GetBytes fetches a URL and returns the response body.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := c.do(ctx, http.MethodGet, url, nil, func(r io.Reader) error {
		var err error
		body, err = io.ReadAll(r)
		return err
	})
	return body, err
}

// GetJSON fetches a URL and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	return c.do(ctx, http.MethodGet, url, nil, func(r io.Reader) error {
		if err := json.NewDecoder(r).Decode(v); err != nil {
			return fmt.Errorf("failed to decode JSON response: %w", err)
		}
		return nil
	})
}

// PostJSON sends body as JSON to a URL and decodes the JSON response
// into v. The encoded body is replayed on retries.
func (c *Client) PostJSON(ctx context.Context, url string, body, v any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, payload, func(r io.Reader) error {
		if err := json.NewDecoder(r).Decode(v); err != nil {
			return fmt.Errorf("failed to decode JSON response: %w", err)
		}
		return nil
	})
}

// GetXML fetches a URL and decodes the XML response into v.
func (c *Client) GetXML(ctx context.Context, url string, v any) error {
	return c.do(ctx, http.MethodGet, url, nil, func(r io.Reader) error {
		if err := xml.NewDecoder(r).Decode(v); err != nil {
			return fmt.Errorf("failed to decode XML response: %w", err)
		}
		return nil
	})
}

// Download fetches a URL and writes the body to path, creating parent
// directories as needed. The file is written to a temporary name and
// renamed into place so a partial download never shadows the final path.
func (c *Client) Download(ctx context.Context, url, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	var written int64
	err := c.do(ctx, http.MethodGet, url, nil, func(r io.Reader) error {
		tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
		if err != nil {
			return fmt.Errorf("failed to create temporary file: %w", err)
		}
		defer os.Remove(tmp.Name())

		written, err = io.Copy(tmp, r)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write download: %w", err)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			return fmt.Errorf("failed to finalize download: %w", err)
		}
		return nil
	})
	return written, err
}

// do runs the request with retries, handing the response body to consume.
func (c *Client) do(ctx context.Context, method, url string, body []byte, consume func(io.Reader) error) error {
	delay := c.policy.Delay
	var lastErr error

	for attempt := 1; attempt <= c.policy.Tries; attempt++ {
		if attempt > 1 {
			c.logger.DebugContext(ctx, "retrying request",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			if err := sleep(ctx, jitter(delay)); err != nil {
				return err
			}
			delay = time.Duration(float64(delay) * c.policy.Backoff)
		}

		err := c.attempt(ctx, method, url, body, consume)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
	}

	c.logger.WarnContext(ctx, "request failed after retries",
		slog.String("url", url),
		slog.Int("tries", c.policy.Tries),
		slog.String("error", lastErr.Error()),
	)
	return fmt.Errorf("%w: %s after %d tries: %v", ErrTransient, url, c.policy.Tries, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte, consume func(io.Reader) error) error {
	var payload io.Reader
	if body != nil {
		payload = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "terracube/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, URL: url, Body: string(body)}
	}

	return consume(resp.Body)
}

// IsTransient reports whether an error is worth retrying. Network-level
// failures and 429/5xx responses are transient; other HTTP client errors
// are not.
func IsTransient(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// url.Error wrapping connection resets and EOFs ends up here.
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		isConnError(err)
}

func isConnError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// jitter perturbs a delay by up to ±25% to avoid thundering herds.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := int64(d) / 2
	return d - time.Duration(spread/2) + time.Duration(rand.Int63n(spread+1))
}

// sleep waits for d or until the context is cancelled.
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
