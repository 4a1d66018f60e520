package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Getter fetches one JSON document. *Client satisfies it.
type Getter interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
}

// Page identifies one listing endpoint.
type Page struct {
	Path  string // e.g. accounts/vendors
	Owner string // owner filter, empty for the provider root
	Sort  string
}

// Result is the accumulated outcome of FetchAll.
type Result[T any] struct {
	Items []T
	Count int // total advertised by the server on the last page read
	Pages int // pages successfully read
}

// Truncated reports whether the server advertised more than was fetched.
func (r Result[T]) Truncated() bool {
	return r.Count > len(r.Items)
}

type envelope[T any] struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Count  int `json:"count"`
	Items  []T `json:"items"`
}

// FetchAll pages through an offset/limit listing. The offset of each request
// is the number of items accumulated so far. It stops when the server's count
// is reached, when maxResults items were accumulated (0 = unbounded), or on
// an empty page. On failure the items accumulated so far are returned with the
// error.
func FetchAll[T any](ctx context.Context, g Getter, page Page, pageLimit, maxResults int) (res Result[T], err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("fetching %s panicked: %v", page.Path, p)
		}
	}()

	if pageLimit <= 0 {
		pageLimit = 100
	}

	for {
		limit := pageLimit
		if maxResults > 0 {
			remaining := maxResults - len(res.Items)
			if remaining <= 0 {
				return res, nil
			}
			limit = min(limit, remaining)
		}

		q := url.Values{}
		q.Set("offset", strconv.Itoa(len(res.Items)))
		q.Set("limit", strconv.Itoa(limit))
		if page.Sort != "" {
			q.Set("sort", page.Sort)
		}
		if page.Owner != "" {
			q.Set("owner", page.Owner)
		}

		var env envelope[T]
		if err := g.Get(ctx, page.Path, q, &env); err != nil {
			return res, err
		}
		res.Pages++
		res.Count = env.Count
		res.Items = append(res.Items, env.Items...)

		if len(env.Items) == 0 || len(res.Items) >= env.Count {
			return res, nil
		}
	}
}
