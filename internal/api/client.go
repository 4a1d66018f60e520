// Package api is the HTTP client for the accounts API. It implements
// harvest.Source on top of the transport chain.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/MarkSG93/2fa-stats-sub000/internal/harvest"
)

// DefaultAPIKeyHeader carries the API key unless configured otherwise.
const DefaultAPIKeyHeader = "X-Api-Key"

const (
	userAgent   = "2fa-stats"
	maxBodySize = 64 << 20
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one API environment.
type Client struct {
	baseURL   *url.URL
	apiKey    string
	keyHeader string
	http      Doer
}

// NewClient creates a client for baseURL. An empty keyHeader means
// DefaultAPIKeyHeader.
func NewClient(baseURL, apiKey, keyHeader string, doer Doer) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host required", baseURL)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	if keyHeader == "" {
		keyHeader = DefaultAPIKeyHeader
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{baseURL: u, apiKey: apiKey, keyHeader: keyHeader, http: doer}, nil
}

// Get fetches path with query and decodes the JSON body into out.
//
// Failures are typed: *harvest.HTTPStatusError for non-2xx responses,
// harvest.ErrHTMLResponse, harvest.ErrContentType and harvest.ErrMalformedJSON
// for unusable payloads. Transport errors are returned wrapped.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set(c.keyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", u.Path, err)
	}
	defer resp.Body.Close()

	return decode(resp, u.Path, out)
}

func decode(resp *http.Response, path string, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return &harvest.HTTPStatusError{StatusCode: resp.StatusCode, URL: path}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/html":
		return fmt.Errorf("GET %s: %w", path, harvest.ErrHTMLResponse)
	case mediaType != "application/json" && !strings.HasSuffix(mediaType, "+json"):
		return fmt.Errorf("GET %s: %w %q", path, harvest.ErrContentType, mediaType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("GET %s: failed to read body: %w", path, err)
	}

	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return fmt.Errorf("GET %s: %w: empty body", path, harvest.ErrMalformedJSON)
	case trimmed[0] == '<':
		// Some gateways label their error pages as JSON.
		return fmt.Errorf("GET %s: %w", path, harvest.ErrHTMLResponse)
	}

	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("GET %s: %w: %w", path, harvest.ErrMalformedJSON, err)
	}
	return nil
}
