package types

import (
	"regexp"
	"strings"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate ensures the session meets all requirements
func (s *Session) Validate() error {
	if !IsValidSessionID(s.ID) {
		return ErrInvalidSessionID
	}
	if len(s.Name) < 1 || len(s.Name) > 200 {
		return ErrInvalidSessionName
	}
	if !IsValidUserID(s.TeacherID) {
		return ErrInvalidUserID
	}
	if !s.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

// Validate ensures the topic can be stored
func (t *Topic) Validate() error {
	if !IsValidSessionID(t.SessionID) {
		return ErrInvalidSessionID
	}
	if !IsValidTopicID(t.ID) {
		return ErrInvalidTopicID
	}
	return nil
}

// IsValid reports whether the status is one of the three lifecycle states
func (s SessionStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusEnded:
		return true
	default:
		return false
	}
}

// HasGracePeriod reports whether a status carries a grace deadline
func (s SessionStatus) HasGracePeriod() bool {
	return s == StatusPaused || s == StatusEnded
}

// IsValidUserID checks if a user ID meets format requirements
// FUNCTIONAL DISCOVERY: 1-50 character limit prevents database issues
// and ensures reasonable display in UI components
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return identifierRegex.MatchString(userID)
}

// IsValidSessionID accepts generated UUIDs as well as caller-chosen slugs
func IsValidSessionID(sessionID string) bool {
	if len(sessionID) < 1 || len(sessionID) > 64 {
		return false
	}
	return identifierRegex.MatchString(sessionID)
}

// IsValidTopicID checks topic identifiers such as "photosynthesis"
func IsValidTopicID(topicID string) bool {
	if len(topicID) < 1 || len(topicID) > 100 {
		return false
	}
	return identifierRegex.MatchString(topicID)
}

// IsValidRole checks the participant role
func IsValidRole(role string) bool {
	return role == RoleTeacher || role == RoleStudent
}

// IsValidStudentName checks the display name shown to a partner
func IsValidStudentName(name string) bool {
	trimmed := strings.TrimSpace(name)
	return len(trimmed) >= 1 && len(trimmed) <= 100
}
