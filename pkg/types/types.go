package types

import (
	"time"
)

// SessionStatus is the lifecycle state of a teaching session
type SessionStatus string

// ARCHITECTURAL DISCOVERY: Status values double as wire values for every client renderer
const (
	StatusActive SessionStatus = "active"
	StatusPaused SessionStatus = "paused"
	StatusEnded  SessionStatus = "ended"
)

// Participant roles
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Push event types
const (
	EventSessionStatusChanged = "session-status-changed"
	EventUserJoined           = "user-joined"
	EventUserLeft             = "user-left"
	EventPartnerFound         = "partner-found"
	EventWaitingRoomUpdated   = "waiting-room-updated"

	// Sent only to the connection that just joined
	EventPresenceSnapshot = "presence-snapshot"
	EventSessionState     = "session-state"
)

// Session represents a live teaching session
// FUNCTIONAL DISCOVERY: GracePeriodEndsAt is set iff Status is paused or ended
type Session struct {
	ID                string        `json:"id" db:"id"`
	TeacherID         string        `json:"teacherId" db:"teacher_id"`
	Name              string        `json:"name" db:"name"`
	Status            SessionStatus `json:"status" db:"status"`
	GracePeriodEndsAt *time.Time    `json:"gracePeriodEndsAt,omitempty" db:"grace_period_ends_at"`
	CreatedAt         time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time     `json:"updatedAt" db:"updated_at"`
}

// Clone returns a deep copy safe to hand to callers outside the owning lock
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.GracePeriodEndsAt != nil {
		t := *s.GracePeriodEndsAt
		c.GracePeriodEndsAt = &t
	}
	return &c
}

// Topic is a conversation topic definition owned by the topic store
type Topic struct {
	SessionID            string `json:"sessionId" db:"session_id"`
	ID                   string `json:"id" db:"id"`
	Title                string `json:"title" db:"title"`
	CollaborationEnabled bool   `json:"collaborationEnabled" db:"collaboration_enabled"`
}

// WaitingEntry is one student waiting for a partner in a topic pool
type WaitingEntry struct {
	SessionID   string    `json:"sessionId"`
	TopicID     string    `json:"topicId"`
	StudentID   string    `json:"studentId"`
	StudentName string    `json:"studentName"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// CollaborationPair is immutable once created
type CollaborationPair struct {
	CollabSessionID string    `json:"collabSessionId" db:"collab_session_id"`
	ConversationID  string    `json:"conversationId" db:"conversation_id"`
	SessionID       string    `json:"sessionId" db:"session_id"`
	TopicID         string    `json:"topicId" db:"topic_id"`
	Participants    [2]Member `json:"participants"`
	InitiatorID     string    `json:"initiatorId" db:"initiator_id"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}

// Member identifies one student of a pair
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PartnerOf returns the other participant of the pair
func (p *CollaborationPair) PartnerOf(studentID string) (Member, bool) {
	switch studentID {
	case p.Participants[0].ID:
		return p.Participants[1], true
	case p.Participants[1].ID:
		return p.Participants[0], true
	}
	return Member{}, false
}

// Includes reports whether the student is one of the participants
func (p *CollaborationPair) Includes(studentID string) bool {
	_, ok := p.PartnerOf(studentID)
	return ok
}

// Participant is one presence-tracked identity in a session
type Participant struct {
	Role     string    `json:"role"`
	Identity string    `json:"identity"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ScopeKind selects which subscribers receive a broadcast
type ScopeKind string

const (
	ScopeSession          ScopeKind = "session"
	ScopePersonal         ScopeKind = "personal"
	ScopeTopicWaitingRoom ScopeKind = "topic-waiting-room"
)

// Scope addresses a fan-out channel
type Scope struct {
	Kind      ScopeKind `json:"kind"`
	SessionID string    `json:"sessionId,omitempty"`
	TopicID   string    `json:"topicId,omitempty"`
	Identity  string    `json:"identity,omitempty"`
}

// SessionScope targets every connection of a session
func SessionScope(sessionID string) Scope {
	return Scope{Kind: ScopeSession, SessionID: sessionID}
}

// PersonalScope targets a single identity
func PersonalScope(identity string) Scope {
	return Scope{Kind: ScopePersonal, Identity: identity}
}

// WaitingRoomScope targets subscribers of one topic's waiting room
func WaitingRoomScope(sessionID, topicID string) Scope {
	return Scope{Kind: ScopeTopicWaitingRoom, SessionID: sessionID, TopicID: topicID}
}

// Key is the channel identity used for per-channel ordering
func (s Scope) Key() string {
	switch s.Kind {
	case ScopeSession:
		return "session:" + s.SessionID
	case ScopePersonal:
		return "personal:" + s.Identity
	case ScopeTopicWaitingRoom:
		return "topic:" + s.SessionID + "/" + s.TopicID
	default:
		return string(s.Kind)
	}
}

// Event is the envelope delivered to subscribers
// ARCHITECTURAL DISCOVERY: ID is unique per emission and Seq increases per scope;
// clients deduplicate redeliveries on ID
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Scope     Scope       `json:"scope"`
	Seq       uint64      `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SessionStatusPayload is the body of session-status-changed and session-state
type SessionStatusPayload struct {
	SessionID         string        `json:"sessionId"`
	Status            SessionStatus `json:"status"`
	GracePeriodEndsAt *time.Time    `json:"gracePeriodEndsAt"`
	ServerTime        time.Time     `json:"serverTime"`
	Message           string        `json:"message,omitempty"`
}

// PresencePayload is the body of user-joined and user-left
type PresencePayload struct {
	SessionID string `json:"sessionId"`
	Role      string `json:"role"`
	Identity  string `json:"identity"`
}

// PresenceSnapshotPayload is sent to a joiner so joins are never blind
type PresenceSnapshotPayload struct {
	SessionID    string        `json:"sessionId"`
	Participants []Participant `json:"participants"`
}

// PartnerFoundPayload is pushed to the student who was already waiting
type PartnerFoundPayload struct {
	SessionID       string `json:"sessionId"`
	TopicID         string `json:"topicId"`
	CollabSessionID string `json:"collabSessionId"`
	ConversationID  string `json:"conversationId"`
	Partner         Member `json:"partner"`
	IsInitiator     bool   `json:"isInitiator"`
}

// WaitingRoomPayload reports pool size changes
type WaitingRoomPayload struct {
	SessionID string `json:"sessionId"`
	TopicID   string `json:"topicId"`
	Waiting   int    `json:"waiting"`
}
