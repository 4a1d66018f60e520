// Package transport provides the http.RoundTripper chain used for every call
// to the accounts API: client-side admission control under a retry policy.
package transport

import (
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// SyntheticHeader marks responses produced locally instead of by the server.
const SyntheticHeader = "X-Synthetic-Response"

// RateLimitOptions configure admission control.
type RateLimitOptions struct {
	Permits    int           // permits per window
	Window     time.Duration // window length
	QueueLimit int           // callers allowed to wait for a permit
}

// RateLimited admits at most Permits requests per Window. Callers that find
// no free permit wait in reservation order; when the wait queue is full or the
// caller's context ends first, RoundTrip answers with a synthetic 429 carrying
// a Retry-After hint and no network call is made.
type RateLimited struct {
	next       http.RoundTripper
	limiter    *rate.Limiter
	queueLimit int64
	waiting    atomic.Int64
	sent       *atomic.Int64
}

// NewRateLimited wraps next. sent, when non-nil, counts requests admitted to
// the network.
func NewRateLimited(next http.RoundTripper, opts RateLimitOptions, sent *atomic.Int64) *RateLimited {
	if next == nil {
		next = http.DefaultTransport
	}
	if opts.Permits <= 0 {
		opts.Permits = 4
	}
	if opts.Window <= 0 {
		opts.Window = time.Second
	}
	if opts.QueueLimit < 0 {
		opts.QueueLimit = 0
	}
	every := opts.Window / time.Duration(opts.Permits)
	return &RateLimited{
		next:       next,
		limiter:    rate.NewLimiter(rate.Every(every), opts.Permits),
		queueLimit: int64(opts.QueueLimit),
		sent:       sent,
	}
}

func (t *RateLimited) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.limiter.Allow() {
		if n := t.waiting.Add(1); n > t.queueLimit {
			t.waiting.Add(-1)
			return t.reject(req), nil
		}
		err := t.limiter.Wait(req.Context())
		t.waiting.Add(-1)
		if err != nil {
			return t.reject(req), nil
		}
	}

	if t.sent != nil {
		t.sent.Add(1)
	}
	return t.next.RoundTrip(req)
}

// Waiting returns the number of callers queued for a permit.
func (t *RateLimited) Waiting() int64 {
	return t.waiting.Load()
}

// untilPermit returns how long until a permit is free at now. It only reads
// the bucket so rejected callers never consume tokens.
func (t *RateLimited) untilPermit(now time.Time) time.Duration {
	missing := 1 - t.limiter.TokensAt(now)
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / float64(t.limiter.Limit()) * float64(time.Second))
}

func (t *RateLimited) reject(req *http.Request) *http.Response {
	if req.Body != nil {
		req.Body.Close()
	}

	h := make(http.Header)
	h.Set("Retry-After", strconv.Itoa(int(math.Ceil(t.untilPermit(time.Now()).Seconds()))))
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set(SyntheticHeader, "rate-limited")

	return &http.Response{
		Status:        "429 Too Many Requests",
		StatusCode:    http.StatusTooManyRequests,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(strings.NewReader("")),
		ContentLength: 0,
		Request:       req,
	}
}
