// Package httpc builds HTTP clients with sensible timeouts and a small
// retry helper for the model and voice APIs.
// Use this instead of http.DefaultClient to ensure timeouts are set.
package httpc

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Default timeouts for HTTP operations.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// NewClient creates a new HTTP client with the specified timeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DefaultConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Retry re-sends a request on transport errors and on 429 or 5xx responses,
// waiting Delay*attempt between tries.
type Retry struct {
	MaxRetries int
	Delay      time.Duration
	Logger     *slog.Logger
}

// Retryable reports whether a status code is worth another attempt.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// Do sends req with c. body is replayed on each retry. The final response is
// returned as-is, whatever its status.
func (r Retry) Do(ctx context.Context, c *http.Client, req *http.Request, body []byte) (*http.Response, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.Delay * time.Duration(attempt)):
			}
			if body != nil {
				req.Body = io.NopCloser(bytes.NewReader(body))
			}
		}

		resp, err := c.Do(req)
		if err != nil {
			lastErr = err
			logger.Warn("request failed, retrying", "attempt", attempt+1, "url", req.URL.Path, "error", err)
			continue
		}

		if Retryable(resp.StatusCode) && attempt < r.MaxRetries {
			resp.Body.Close()
			logger.Warn("retryable status, retrying", "attempt", attempt+1, "status", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}
