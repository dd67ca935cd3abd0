package session

import "errors"

// Sentinel errors returned by the session engine. All of these are expected,
// recoverable-by-caller outcomes; callers classify them with errors.Is and
// translate them into user-facing responses.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrActiveSessionExists = errors.New("an active session already exists for this course")
	ErrSessionClosed       = errors.New("session is closed")
	ErrDuplicateMarking    = errors.New("attendance already marked")
	ErrInvalidConfig       = errors.New("invalid session config")
)
