package keypager

import "errors"

var (
	// ErrInvalidCursor reports a malformed cursor token: broken encoding,
	// wrong element arity, or a column/operator set that does not match the
	// requested orderings. Surfaced to the caller as a client error and never
	// retried.
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrInvalidLimit reports a page limit outside the accepted range.
	ErrInvalidLimit = errors.New("invalid limit")
)
