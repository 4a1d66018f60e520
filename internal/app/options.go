package app

import (
	"time"

	"github.com/MarkSG93/2fa-stats-sub000/internal/config"
	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
	"github.com/MarkSG93/2fa-stats-sub000/internal/transport"
)

// transportOptions maps the [harvest] section onto the client chain.
func transportOptions(h config.HarvestConfig) transport.Options {
	h = h.WithDefaults()
	return transport.Options{
		RateLimit: transport.RateLimitOptions{
			Permits:    h.RatePermits,
			Window:     time.Duration(h.RateWindowMS) * time.Millisecond,
			QueueLimit: h.QueueLimit,
		},
		Attempts: h.RetryAttempts,
		Backoff:  time.Duration(h.RetryBackoffMS) * time.Millisecond,
		Timeout:  time.Duration(h.RequestTimeoutS) * time.Second,
	}
}

// harvestOptions maps the [harvest] section onto the engine options. Per-kind
// overrides win over the built-in defaults.
func harvestOptions(h config.HarvestConfig) harvest.Options {
	h = h.WithDefaults()
	opts := harvest.DefaultOptions()
	opts.Fanout = h.Fanout
	opts.KeepPartial = h.KeepPartial

	for kind, l := range opts.Listing {
		l.PageLimit = h.PageLimit
		if v, ok := h.MaxResults[string(kind)]; ok && v > 0 {
			l.MaxResults = v
		}
		opts.Listing[kind] = l
	}
	for kind, r := range opts.Refresh {
		r.Parallelism = h.DetailParallelism
		r.Timeout = time.Duration(h.DetailTimeoutS) * time.Second
		r.MaxPages = h.MaxPages
		if v, ok := h.PageSize[string(kind)]; ok && v > 0 {
			r.PageSize = v
		}
		opts.Refresh[kind] = r
	}
	return opts
}
