package source

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable signals that a real read did not produce data. It is an
	// expected outcome during normal operation; callers fall back to the
	// simulator.
	ErrUnavailable = errors.New("source unavailable")

	// ErrUnsupportedSource is returned for IDs outside the catalog.
	ErrUnsupportedSource = errors.New("unsupported source")

	// ErrShortRead is wrapped in ErrUnavailable when a device returns fewer
	// bytes than requested.
	ErrShortRead = errors.New("short read")
)

// unavailable wraps cause so that errors.Is(err, ErrUnavailable) holds while
// the cause stays inspectable.
func unavailable(id ID, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, id)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, id, cause)
}

func unsupported(id ID) error {
	return fmt.Errorf("%w: %q", ErrUnsupportedSource, id)
}
