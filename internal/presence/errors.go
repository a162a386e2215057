package presence

import "errors"

// Presence error types
var (
	ErrInvalidSessionID = errors.New("invalid session ID")
	ErrInvalidIdentity  = errors.New("invalid identity")
	ErrInvalidRole      = errors.New("invalid role: must be 'teacher' or 'student'")
)
