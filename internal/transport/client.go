// Package transport implements the client's HTTP transport to
// archivesyncd: msgpack request/response bodies over internal/wire, the
// fixed 5-attempt/10s retry policy spec.md §7 mandates for connection-level
// failures, and size-scaled timeouts for blob upload/download.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/nf-oss/archivesync/internal/wire"
)

// MaxAttempts is the number of times a transport-classified failure is
// retried, per spec.md §7 ("retried 5x at 10s").
const MaxAttempts = 5

// RetryInterval is the fixed delay between attempts.
const RetryInterval = 10 * time.Second

// baseTimeout and perByteTimeout size a blob request's deadline: small
// metadata calls get baseTimeout alone, and blob transfers add
// perByteTimeout for every byte of declared size.
const (
	baseTimeout    = 30 * time.Second
	perByteTimeout = time.Microsecond
)

// Config configures a Client.
type Config struct {
	// BaseURL is the server's root, e.g. "https://archive.example.com".
	BaseURL string
	// AccessToken is the bearer token sent with every request.
	AccessToken string
	// HTTPClient overrides the default *http.Client; useful for tests.
	HTTPClient *http.Client
}

// Client is a retrying HTTP client bound to one Source's bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

// New builds a Client from cfg.
func New(cfg Config, logger zerolog.Logger) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AccessToken,
		http:    hc,
		logger:  logger.With().Str("component", "transport").Logger(),
	}
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

func (c *Client) newRetry() backoff.BackOff {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(RetryInterval), MaxAttempts-1)
	return b
}

// timeoutForSize returns the deadline a request carrying size bytes of body
// should use. size is 0 for ordinary metadata calls.
func timeoutForSize(size int64) time.Duration {
	return baseTimeout + time.Duration(size)*perByteTimeout
}

// Call performs a single request/response /api/v1/* call: marshals body (if
// non-nil) as the msgpack request, retries transport-classified failures up
// to MaxAttempts times, and unmarshals the response into out (if non-nil).
// A non-2xx response with a parseable wire.ErrorBody surfaces as
// *wire.ApplicationError and is never retried.
func (c *Client) Call(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = wire.Marshal(body)
		if err != nil {
			return err
		}
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.url(path), bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("transport: building request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/msgpack")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			wrapped := classifyErr(err)
			if isRetryable(wrapped) {
				return wrapped
			}
			return backoff.Permanent(wrapped)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("transport: reading response: %w", err))
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var eb wire.ErrorBody
			if err := wire.Unmarshal(respBody, &eb); err == nil && eb.Message != "" {
				return backoff.Permanent(&wire.ApplicationError{Message: eb.Message})
			}
			sErr := statusErr(resp.StatusCode, string(respBody))
			if isRetryable(sErr) {
				return sErr
			}
			return backoff.Permanent(sErr)
		}

		if out != nil && len(respBody) > 0 {
			if err := wire.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(err)
			}
		}
		return nil
	}

	attempt := 0
	notify := func(err error, wait time.Duration) {
		attempt++
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Str("path", path).
			Msg("transport retrying after connection failure")
	}

	if err := backoff.RetryNotify(op, c.newRetry(), notify); err != nil {
		return unwrapPermanent(err)
	}
	return nil
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
