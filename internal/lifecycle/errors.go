package lifecycle

import (
	"errors"

	"livesession/pkg/interfaces"
)

// Lifecycle error types
var (
	ErrSessionNotFound    = interfaces.ErrSessionNotFound
	ErrUnauthorized       = interfaces.ErrUnauthorized
	ErrInvalidTransition  = errors.New("invalid session status transition")
	ErrInvalidStatus      = errors.New("invalid status: must be 'active', 'paused' or 'ended'")
	ErrInvalidSessionName = errors.New("session name must be 1-200 characters")
	ErrInvalidTeacherID   = errors.New("teacher ID must be a valid user ID")
	ErrInvalidSessionID   = errors.New("invalid session ID")
)
