package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// maxDrain bounds how much of a retried response body is kept in memory.
const maxDrain = 1 << 20

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retry re-sends requests answered with 429 or 5xx, waiting Backoff*2^attempt
// between attempts. After the last attempt the final response is returned
// as-is: callers detect failure from the status code, not from an error.
type Retry struct {
	next     http.RoundTripper
	attempts int
	backoff  time.Duration
	sleep    SleepFunc
}

// NewRetry wraps next. attempts counts the first try.
func NewRetry(next http.RoundTripper, attempts int, backoff time.Duration) *Retry {
	if attempts <= 0 {
		attempts = 1
	}
	return &Retry{next: next, attempts: attempts, backoff: backoff, sleep: sleepContext}
}

// WithSleep replaces the backoff sleeper. Used by tests.
func (t *Retry) WithSleep(sleep SleepFunc) *Retry {
	t.sleep = sleep
	return t
}

func (t *Retry) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req = req.Clone(ctx)
			req.Body = body
		}

		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if !Retryable(resp.StatusCode) || attempt+1 >= t.attempts {
			return resp, nil
		}

		// Keep the body readable in case the wait is cut short and this
		// response becomes the answer.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDrain))
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))

		if err := t.sleep(ctx, t.backoff<<attempt); err != nil {
			return resp, nil
		}
	}
}

// Retryable reports whether status is worth another attempt.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
