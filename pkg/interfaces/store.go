package interfaces

import (
	"context"

	"livesession/pkg/types"
)

// SessionStore is the session-record collaborator
// ARCHITECTURAL DISCOVERY: Context-first design enables query timeout and
// cancellation for store operations that may block under load
type SessionStore interface {
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession returns ErrSessionNotFound for unknown ids
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// UpdateSessionStatus persists status, grace deadline and updated time
	UpdateSessionStatus(ctx context.Context, session *types.Session) error

	DeleteSession(ctx context.Context, sessionID string) error

	// ListLiveSessions returns sessions that are not ended, plus ended
	// sessions whose grace period has not yet elapsed
	ListLiveSessions(ctx context.Context) ([]*types.Session, error)
}

// TopicStore is the conversation/topic collaborator
type TopicStore interface {
	// GetTopic returns ErrTopicNotFound for unknown topics
	GetTopic(ctx context.Context, sessionID, topicID string) (*types.Topic, error)
	UpsertTopic(ctx context.Context, topic *types.Topic) error
	ListTopics(ctx context.Context, sessionID string) ([]*types.Topic, error)
}

// PairStore records collaboration pair metadata (never conversation content)
type PairStore interface {
	StorePair(ctx context.Context, pair *types.CollaborationPair) error
}

// Authorizer decides whether a caller may issue teacher commands
type Authorizer interface {
	// AuthorizeTeacher returns ErrUnauthorized when callerID may not control the session
	AuthorizeTeacher(ctx context.Context, session *types.Session, callerID string) error
}
