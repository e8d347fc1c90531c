package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nf-oss/archivesync/internal/wire"
)

// Stream issues a streamed /api/v1/* call and returns a wire.Decoder[T]
// reading the response's length-prefixed frame sequence. Only establishing
// the connection and response headers is retried (MaxAttempts at
// RetryInterval); once the first frame has started arriving, a mid-stream
// failure surfaces to the caller as a plain error rather than being retried,
// since re-opening mid-stream would require the server to support resuming
// at an arbitrary frame boundary, which it does not.
//
// Stream is a package-level generic function, not a Client method: Go
// methods cannot introduce their own type parameters.
func Stream[T any](ctx context.Context, c *Client, method, path string, body any) (*wire.Decoder[T], io.Closer, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = wire.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
	}

	var resp *http.Response
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.url(path), bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("transport: building request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/msgpack")
		}

		r, err := c.http.Do(req)
		if err != nil {
			wrapped := classifyErr(err)
			if isRetryable(wrapped) {
				return wrapped
			}
			return backoff.Permanent(wrapped)
		}

		if r.StatusCode < 200 || r.StatusCode >= 300 {
			defer r.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(r.Body, 64<<10))
			var eb wire.ErrorBody
			if err := wire.Unmarshal(body, &eb); err == nil && eb.Message != "" {
				return backoff.Permanent(&wire.ApplicationError{Message: eb.Message})
			}
			sErr := statusErr(r.StatusCode, string(body))
			if isRetryable(sErr) {
				return sErr
			}
			return backoff.Permanent(sErr)
		}

		resp = r
		return nil
	}

	attempt := 0
	notify := func(err error, wait time.Duration) {
		attempt++
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Str("path", path).
			Msg("transport retrying stream connect after failure")
	}

	if err := backoff.RetryNotify(op, c.newRetry(), notify); err != nil {
		return nil, nil, unwrapPermanent(err)
	}

	return wire.NewDecoder[T](resp.Body), resp.Body, nil
}
