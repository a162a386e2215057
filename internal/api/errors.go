package api

import (
	"errors"
	"net/http"

	"livesession/internal/lifecycle"
	"livesession/internal/matchmaking"
	"livesession/internal/presence"
	"livesession/pkg/interfaces"
	"livesession/pkg/types"
)

// API error types
var (
	ErrMissingCallerID   = errors.New("X-User-ID header is required")
	ErrInvalidJSON       = errors.New("invalid JSON body")
	ErrInvalidTopicTitle = errors.New("topic title must be 1-200 characters")
	ErrIdentityMismatch  = errors.New("identity does not match the caller")
	ErrNotSessionTeacher = errors.New("only the session teacher may join as teacher")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// badRequest lists every validation failure the core components report
var badRequest = []error{
	ErrInvalidJSON,
	ErrInvalidTopicTitle,
	types.ErrInvalidUserID,
	types.ErrInvalidSessionID,
	types.ErrInvalidTopicID,
	types.ErrInvalidStudentName,
	types.ErrInvalidRole,
	types.ErrInvalidStatus,
	lifecycle.ErrInvalidStatus,
	lifecycle.ErrInvalidSessionName,
	lifecycle.ErrInvalidTeacherID,
	lifecycle.ErrInvalidSessionID,
	matchmaking.ErrInvalidSessionID,
	matchmaking.ErrInvalidTopicID,
	matchmaking.ErrInvalidStudentID,
	matchmaking.ErrInvalidStudentName,
	presence.ErrInvalidSessionID,
	presence.ErrInvalidIdentity,
	presence.ErrInvalidRole,
}

// statusFor maps a core error to its HTTP status code
// FUNCTIONAL DISCOVERY: Ended sessions and illegal transitions are both
// conflicts with current state, not malformed requests
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMissingCallerID):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrUnauthorized),
		errors.Is(err, ErrIdentityMismatch),
		errors.Is(err, ErrNotSessionTeacher):
		return http.StatusForbidden
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, matchmaking.ErrSessionEnded):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrSessionNotFound),
		errors.Is(err, interfaces.ErrTopicNotFound),
		errors.Is(err, matchmaking.ErrPairNotFound):
		return http.StatusNotFound
	case errors.Is(err, matchmaking.ErrCollaborationDisabled):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	}

	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}
