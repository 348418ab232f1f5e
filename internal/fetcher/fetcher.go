// Package fetcher performs rate-limited HTTP GETs against upstream open-data
// APIs, retrying transport and non-2xx failures with exponential backoff.
package fetcher

import (
	"context"
	"errors"
	"fmt"
)

// Fetcher defines the interface for retrieving one upstream JSON document.
type Fetcher interface {
	// GetJSON fetches rawURL and decodes the response body into v, which must
	// be a non-nil pointer. The call is atomic: v is left untouched unless an
	// attempt succeeds, and then holds exactly that attempt's body.
	GetJSON(ctx context.Context, rawURL string, v any) error
}

// ErrFetchExhausted is matched by errors.Is for every FetchExhaustedError.
var ErrFetchExhausted = errors.New("fetch exhausted")

// FetchExhaustedError is returned once the retry budget for a single request
// is spent. Err is the failure of the final attempt.
type FetchExhaustedError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("fetch exhausted after %d attempts for %s: %v", e.Attempts, e.URL, e.Err)
}

func (e *FetchExhaustedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrFetchExhausted.
func (e *FetchExhaustedError) Is(target error) bool { return target == ErrFetchExhausted }
