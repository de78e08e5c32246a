package transport

import "errors"

var (
	// ErrTransport wraps network and server failures. The core passes it
	// through unchanged.
	ErrTransport = errors.New("transport failure")
	// ErrUnauthorized is returned when the server rejects credentials or
	// the access token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned when an entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a create collides with an existing entry
	// or a re-key does not cover the stored entry set exactly.
	ErrConflict = errors.New("conflict")
	// ErrInvalidRequest is returned for malformed payloads.
	ErrInvalidRequest = errors.New("invalid request")
)
