package remote

import (
	"context"
	"net/http"
	"time"
)

// retryDo executes an HTTP request with exponential backoff retry.
// Retries on network errors, HTTP 429, and HTTP 5xx responses.
// Does not retry 4xx client errors. Requests are body-less GETs, so no
// buffering is needed between attempts.
func retryDo(ctx context.Context, client *http.Client, req *http.Request, maxAttempts int, backoff time.Duration) (*http.Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}

		// Keep the last retryable response open only if it is the final attempt.
		if attempt == maxAttempts-1 {
			return resp, nil
		}
		drainAndClose(resp)
		lastErr = nil
	}

	return nil, lastErr
}

// isRetryableStatus returns true for HTTP status codes that should be retried.
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
