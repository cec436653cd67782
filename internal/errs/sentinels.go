// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across protocol/server/storage layers.
var (
	// ErrMalformedFrame indicates a payload that is not a valid JIM frame.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrFrameTooLarge indicates a frame exceeding the codec's size bound.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrAuthFailure indicates a password mismatch on presence.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrNameTaken indicates the user name is already bound to a live connection.
	ErrNameTaken = errors.New("name already in use")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
)
