package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// StatusError is a non-2xx answer from the artifact service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("artifact service: HTTP %d: %s", e.Code, e.Body)
}

func retryable(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// backoff is the wait before retry attempt n (n >= 1): n² seconds scaled by
// unit, plus up to 50% jitter.
func backoff(attempt int, unit time.Duration) time.Duration {
	base := time.Duration(attempt*attempt) * unit
	return base + time.Duration(rand.Int63n(int64(base/2+1)))
}

// doWithRetry executes a request, retrying network failures, 5xx and 429 up to
// retries times with exponential backoff. The caller owns the returned body.
func doWithRetry(ctx context.Context, client *http.Client, retries int, unit time.Duration, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt, unit)
			logger.Warn("retrying artifact request", "attempt", attempt+1, "backoff", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if retryable(resp.StatusCode) {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = &StatusError{Code: resp.StatusCode, Body: string(body)}
			continue
		}

		return resp, nil
	}

	if retries > 0 {
		return nil, fmt.Errorf("request failed after %d retries: %w", retries, lastErr)
	}
	return nil, lastErr
}
