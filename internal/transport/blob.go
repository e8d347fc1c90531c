package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nf-oss/archivesync/internal/wire"
)

// PutBlob uploads an encrypted blob's bytes to PUT /content/{hash}. open is
// called once per attempt so a retried upload re-reads the spooled file
// from the start rather than resuming a partially-consumed stream. size
// scales the request timeout per spec.md §5.
func (c *Client) PutBlob(ctx context.Context, hash string, size int64, open func() (io.ReadCloser, error)) error {
	op := func() error {
		rc, err := open()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("transport: reopening blob for upload: %w", err))
		}
		defer rc.Close()

		reqCtx, cancel := context.WithTimeout(ctx, timeoutForSize(size))
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, c.url("/content/"+hash), rc)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("transport: building upload request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.ContentLength = size

		resp, err := c.http.Do(req)
		if err != nil {
			wrapped := classifyErr(err)
			if isRetryable(wrapped) {
				return wrapped
			}
			return backoff.Permanent(wrapped)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			sErr := statusErr(resp.StatusCode, "")
			if isRetryable(sErr) {
				return sErr
			}
			return backoff.Permanent(sErr)
		}
		return nil
	}

	attempt := 0
	notify := func(err error, wait time.Duration) {
		attempt++
		c.logger.Warn().Err(err).Int("attempt", attempt).Str("hash", hash).
			Msg("transport retrying blob upload")
	}

	if err := backoff.RetryNotify(op, c.newRetry(), notify); err != nil {
		return unwrapPermanent(err)
	}
	return nil
}

// GetBlob downloads GET /content/{hash}. The returned ReadCloser is not
// itself retried: internal/syncengine's download-apply pipeline writes it
// straight to a temp file and verifies the plaintext hash/size afterward,
// returning any mismatch as an error rather than re-requesting.
func (c *Client) GetBlob(ctx context.Context, hash string, expectedSize int64) (io.ReadCloser, error) {
	var body io.ReadCloser

	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, timeoutForSize(expectedSize))
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.url("/content/"+hash), nil)
		if err != nil {
			cancel()
			return backoff.Permanent(fmt.Errorf("transport: building download request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			cancel()
			wrapped := classifyErr(err)
			if isRetryable(wrapped) {
				return wrapped
			}
			return backoff.Permanent(wrapped)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			defer resp.Body.Close()
			defer cancel()
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			var eb wire.ErrorBody
			if err := wire.Unmarshal(b, &eb); err == nil && eb.Message != "" {
				return backoff.Permanent(&wire.ApplicationError{Message: eb.Message})
			}
			sErr := statusErr(resp.StatusCode, string(b))
			if isRetryable(sErr) {
				return sErr
			}
			return backoff.Permanent(sErr)
		}

		body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return nil
	}

	attempt := 0
	notify := func(err error, wait time.Duration) {
		attempt++
		c.logger.Warn().Err(err).Int("attempt", attempt).Str("hash", hash).
			Msg("transport retrying blob download connect")
	}

	if err := backoff.RetryNotify(op, c.newRetry(), notify); err != nil {
		return nil, unwrapPermanent(err)
	}
	return body, nil
}

// cancelOnClose releases the request's context cancel func when the body is
// closed, so the size-scaled timeout doesn't leak past the download.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
