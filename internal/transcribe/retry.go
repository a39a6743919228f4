package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 2 * time.Second
)

// retryableStatus reports whether a response status is worth retrying.
// Rate limits and server-side failures are transient; everything else
// goes straight back to the caller
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// doWithRetry executes a request with exponential backoff. The build
// function must return a fresh request each attempt so the body can be
// replayed
func (c *Client) doWithRetry(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	delay := c.retryDelay
	if delay <= 0 {
		delay = retryBaseDelay
	}

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("server returned %s", resp.Status)
			resp.Body.Close()
		}

		if attempt < retryAttempts {
			c.logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("transcription request failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", retryAttempts, lastErr)
}
