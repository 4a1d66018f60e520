package harvest

import (
	"errors"
	"fmt"
)

// Payload-level failures reported by a Source. Implementations wrap these so
// callers can classify with errors.Is.
var (
	ErrContentType   = errors.New("unexpected content type")
	ErrHTMLResponse  = errors.New("html response")
	ErrMalformedJSON = errors.New("malformed json")
)

// HTTPStatusError reports a non-success response that survived the retry layer.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d from %s", e.StatusCode, e.URL)
}
