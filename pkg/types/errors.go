package types

import "errors"

// ARCHITECTURAL DISCOVERY: Validation errors live with the types they validate
// so every component reports the same message for the same violation
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidSessionID   = errors.New("session ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidTopicID     = errors.New("topic ID must be 1-100 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidSessionName = errors.New("session name must be 1-200 characters")
	ErrInvalidStudentName = errors.New("student name must be 1-100 characters")
	ErrInvalidRole        = errors.New("invalid role: must be 'teacher' or 'student'")
	ErrInvalidStatus      = errors.New("invalid status: must be 'active', 'paused' or 'ended'")
)
