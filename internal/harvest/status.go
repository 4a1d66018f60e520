package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// stats_status vocabulary.
const (
	StatusPending      = "pending"
	StatusSuccess      = "SUCCESS"
	StatusContentType  = "ERROR_CONTENT_TYPE"
	StatusJSONParsing  = "ERROR_JSON_PARSING"
	StatusTimeout      = "ERROR_TIMEOUT"
	StatusException    = "ERROR_EXCEPTION"
	StatusHTMLResponse = "ERROR_HTML_RESPONSE"

	statusHTTPPrefix = "ERROR_HTTP_"
)

// StatusHTTP returns the status for a failed HTTP call, e.g. ERROR_HTTP_503.
func StatusHTTP(code int) string {
	return fmt.Sprintf("%s%d", statusHTTPPrefix, code)
}

// IsKnownStatus reports whether s belongs to the stats_status vocabulary.
func IsKnownStatus(s string) bool {
	switch s {
	case StatusPending, StatusSuccess, StatusContentType, StatusJSONParsing,
		StatusTimeout, StatusException, StatusHTMLResponse:
		return true
	}
	code, ok := strings.CutPrefix(s, statusHTTPPrefix)
	if !ok || len(code) != 3 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// StatusFor classifies a detail fetch error into the stats_status vocabulary.
// A nil error is SUCCESS.
func StatusFor(err error) string {
	var httpErr *HTTPStatusError
	var timeout interface{ Timeout() bool }
	switch {
	case err == nil:
		return StatusSuccess
	case errors.As(err, &httpErr):
		return StatusHTTP(httpErr.StatusCode)
	case errors.Is(err, ErrHTMLResponse):
		return StatusHTMLResponse
	case errors.Is(err, ErrContentType):
		return StatusContentType
	case errors.Is(err, ErrMalformedJSON):
		return StatusJSONParsing
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	case errors.As(err, &timeout) && timeout.Timeout():
		return StatusTimeout
	default:
		return StatusException
	}
}
