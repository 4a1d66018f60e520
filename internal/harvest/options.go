package harvest

import "time"

// RefreshOptions bound one refresher loop.
type RefreshOptions struct {
	PageSize    int           // records selected per batch
	Parallelism int           // concurrent detail fetches per batch
	Timeout     time.Duration // per-record detail timeout
	MaxPages    int           // hard ceiling on loop iterations per pass
	MaxRecords  int           // optional record budget per pass, 0 = unlimited
}

// Options tune the harvester and the refreshers.
type Options struct {
	// Fanout caps concurrent listings per tier. The shared rate limiter is
	// the real gate on network concurrency.
	Fanout int
	// KeepPartial keeps the items a failed listing accumulated before it
	// failed. By default a failed owner contributes nothing.
	KeepPartial bool

	Listing map[Kind]ListOptions
	Refresh map[Kind]RefreshOptions
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	refresh := func(pageSize int) RefreshOptions {
		return RefreshOptions{
			PageSize:    pageSize,
			Parallelism: 5,
			Timeout:     60 * time.Second,
			MaxPages:    100,
		}
	}
	return Options{
		Fanout: 8,
		Listing: map[Kind]ListOptions{
			KindDistributors: {PageLimit: 100, MaxResults: 10000},
			KindVendors:      {PageLimit: 100, MaxResults: 10000},
			// Some vendors own thousands of clients; cap them so one vendor
			// cannot stall the run.
			KindClients: {PageLimit: 100, MaxResults: 2000},
			KindUsers:   {PageLimit: 100, MaxResults: 5000},
		},
		Refresh: map[Kind]RefreshOptions{
			KindDistributors: refresh(5),
			KindVendors:      refresh(20),
			KindClients:      refresh(50),
			KindUsers:        refresh(100),
		},
	}
}

func (o Options) listing(k Kind) ListOptions {
	if l, ok := o.Listing[k]; ok {
		return l
	}
	return DefaultOptions().Listing[k]
}

func (o Options) refresh(k Kind) RefreshOptions {
	r, ok := o.Refresh[k]
	if !ok {
		r = DefaultOptions().Refresh[k]
	}
	if r.PageSize <= 0 {
		r.PageSize = 20
	}
	if r.Parallelism <= 0 {
		r.Parallelism = 1
	}
	if r.Timeout <= 0 {
		r.Timeout = 60 * time.Second
	}
	if r.MaxPages <= 0 {
		r.MaxPages = 100
	}
	return r
}
