package agentwire

import "errors"

// ErrInvalidRequest indicates a request missing a required field. It is a
// caller bug: the relay answers 400 and the client never retries it.
var ErrInvalidRequest = errors.New("invalid request: missing required field")

// ErrNotRegistered indicates a client attempted to send before a successful
// Register call. Surfaced to the caller, not retried.
var ErrNotRegistered = errors.New("agent not registered")
