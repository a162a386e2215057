package matchmaking

import (
	"errors"

	"livesession/pkg/interfaces"
)

var (
	ErrSessionEnded          = errors.New("session has ended")
	ErrTopicNotFound         = interfaces.ErrTopicNotFound
	ErrCollaborationDisabled = errors.New("collaboration is not enabled for this topic")
	ErrInvalidSessionID      = errors.New("invalid session ID")
	ErrInvalidTopicID        = errors.New("invalid topic ID")
	ErrInvalidStudentID      = errors.New("invalid student ID")
	ErrInvalidStudentName    = errors.New("invalid student name")
	ErrPairNotFound          = errors.New("collaboration pair not found")
)
