package interfaces

import "livesession/pkg/types"

// Subscriber is one connected endpoint that can receive pushed events
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// keeps the fan-out free of any WebSocket dependency
type Subscriber interface {
	// Send queues an event for delivery without waiting on the network
	// FUNCTIONAL DISCOVERY: Implementations must be non-blocking; a full
	// buffer is reported as an error, never waited out
	Send(event *types.Event) error

	// GetUserID returns the connected identity
	GetUserID() string

	// GetRole returns "teacher" or "student"
	GetRole() string

	// GetSessionID returns the session this subscriber belongs to
	GetSessionID() string
}

// Directory resolves the current subscribers of a scope at delivery time
type Directory interface {
	SessionSubscribers(sessionID string) []Subscriber
	PersonalSubscribers(identity string) []Subscriber
	TopicSubscribers(sessionID, topicID string) []Subscriber
}
