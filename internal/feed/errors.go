package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a user or post absent from the authoritative store.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable wraps failures of the authoritative store or the cache.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Unavailable wraps err so that errors.Is(err, ErrUpstreamUnavailable) holds.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUpstreamUnavailable, err)
}
