package transport

import (
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// Options configure the full client chain.
type Options struct {
	RateLimit RateLimitOptions
	Attempts  int           // total attempts per logical call
	Backoff   time.Duration // first retry delay; doubles per attempt
	Timeout   time.Duration // bounds one logical call, retries included
}

// DefaultOptions: 4 requests/second, 10,000 waiters, 3 attempts from 1s, 240s per call.
func DefaultOptions() Options {
	return Options{
		RateLimit: RateLimitOptions{Permits: 4, Window: time.Second, QueueLimit: 10000},
		Attempts:  3,
		Backoff:   time.Second,
		Timeout:   240 * time.Second,
	}
}

// NewClient returns an http.Client whose transport is
// Retry → RateLimited → base. sent counts requests that reached the network.
func NewClient(opts Options, sent *atomic.Int64) *http.Client {
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
	}

	limited := NewRateLimited(base, opts.RateLimit, sent)
	return &http.Client{
		Transport: NewRetry(limited, opts.Attempts, opts.Backoff),
		Timeout:   opts.Timeout,
	}
}
