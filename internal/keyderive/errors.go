package keyderive

import "errors"

var (
	// ErrUnsupportedMethod is returned for method names outside the
	// supported set.
	ErrUnsupportedMethod = errors.New("unsupported derivation method")

	// ErrMissingDependency is returned when a method is recognised but its
	// implementation is not present in this build.
	ErrMissingDependency = errors.New("derivation method implementation not available")

	// ErrInsufficientMaterial is returned when there are no retained samples
	// to derive from.
	ErrInsufficientMaterial = errors.New("no retained samples to derive from")

	// ErrInvalidParameter is returned for non-positive top-n or key length,
	// or a key length the method cannot produce.
	ErrInvalidParameter = errors.New("invalid derivation parameter")
)
