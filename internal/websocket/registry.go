package websocket

import (
	"log/slog"
	"sync"

	"livesession/pkg/interfaces"
	"livesession/pkg/types"
)

// Registry manages WebSocket connections with thread-safe operations and
// resolves fan-out scopes to the connections currently subscribed
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and delivery
type Registry struct {
	mu                sync.RWMutex                      // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	globalConnections map[string]*Connection            // userID -> Connection for O(1) personal lookup
	sessionTeachers   map[string]map[string]*Connection // sessionID -> userID -> Connection
	sessionStudents   map[string]map[string]*Connection // sessionID -> userID -> Connection
	topicWatchers     map[string]map[string]*Connection // sessionID/topicID -> userID -> Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		globalConnections: make(map[string]*Connection),
		sessionTeachers:   make(map[string]map[string]*Connection),
		sessionStudents:   make(map[string]map[string]*Connection),
		topicWatchers:     make(map[string]map[string]*Connection),
	}
}

// RegisterConnection adds a connection to all appropriate maps atomically
// ARCHITECTURAL DISCOVERY: Connection replacement pattern coordinates with cleanup
// to prevent resource leaks while maintaining immediate registration.
// The replaced connection, if any, is returned
func (r *Registry) RegisterConnection(conn *Connection) (*Connection, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return nil, ErrConnectionNotAuthenticated
	}

	userID := conn.GetUserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	// FUNCTIONAL DISCOVERY: Close existing connection asynchronously to prevent deadlock
	// during registration while ensuring immediate replacement
	existing, exists := r.globalConnections[userID]
	if exists && existing == conn {
		return nil, nil
	}
	if exists {
		r.removeLocked(existing)
		go func() {
			if err := existing.Close(); err != nil {
				slog.Debug("Failed to close replaced connection", "user_id", userID, "error", err)
			}
		}()
	}

	r.globalConnections[userID] = conn
	roleMap := r.roleMapLocked(conn.GetRole())
	if roleMap != nil {
		sessionID := conn.GetSessionID()
		if roleMap[sessionID] == nil {
			roleMap[sessionID] = make(map[string]*Connection)
		}
		roleMap[sessionID][userID] = conn
	}

	return existing, nil
}

// UnregisterConnection removes a specific connection from all maps atomically
// and reports whether it was still the registered one
// RACE CONDITION FIX: A connection replaced by a reconnect must not remove its successor
func (r *Registry) UnregisterConnection(conn *Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.globalConnections[conn.GetUserID()]
	if !exists || registered != conn {
		return false
	}
	r.removeLocked(conn)
	return true
}

// WatchTopic subscribes a registered connection to a topic's waiting room
func (r *Registry) WatchTopic(conn *Connection, topicID string) error {
	if !types.IsValidTopicID(topicID) {
		return types.ErrInvalidTopicID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.globalConnections[conn.GetUserID()] != conn {
		return ErrNotRegistered
	}

	key := topicKey(conn.GetSessionID(), topicID)
	if r.topicWatchers[key] == nil {
		r.topicWatchers[key] = make(map[string]*Connection)
	}
	r.topicWatchers[key][conn.GetUserID()] = conn
	conn.watch(topicID)
	return nil
}

// UnwatchTopic is idempotent
func (r *Registry) UnwatchTopic(conn *Connection, topicID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unwatchLocked(conn, topicID)
	conn.unwatch(topicID)
}

// GetUserConnection returns the current connection for a user with O(1) lookup
func (r *Registry) GetUserConnection(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.globalConnections[userID]
	return conn, exists
}

// GetSessionConnections returns all connections in a session
func (r *Registry) GetSessionConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var connections []*Connection
	for _, conn := range r.sessionTeachers[sessionID] {
		connections = append(connections, conn)
	}
	for _, conn := range r.sessionStudents[sessionID] {
		connections = append(connections, conn)
	}
	return connections
}

// SessionSubscribers implements interfaces.Directory
func (r *Registry) SessionSubscribers(sessionID string) []interfaces.Subscriber {
	return subscribers(r.GetSessionConnections(sessionID))
}

// PersonalSubscribers implements interfaces.Directory
func (r *Registry) PersonalSubscribers(identity string) []interfaces.Subscriber {
	conn, ok := r.GetUserConnection(identity)
	if !ok {
		return nil
	}
	return []interfaces.Subscriber{conn}
}

// TopicSubscribers implements interfaces.Directory
func (r *Registry) TopicSubscribers(sessionID, topicID string) []interfaces.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	watchers := r.topicWatchers[topicKey(sessionID, topicID)]
	out := make([]interfaces.Subscriber, 0, len(watchers))
	for _, conn := range watchers {
		out = append(out, conn)
	}
	return out
}

// AllConnections returns every registered connection
func (r *Registry) AllConnections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.globalConnections))
	for _, conn := range r.globalConnections {
		out = append(out, conn)
	}
	return out
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uniqueSessions := make(map[string]bool)
	for sessionID := range r.sessionTeachers {
		uniqueSessions[sessionID] = true
	}
	for sessionID := range r.sessionStudents {
		uniqueSessions[sessionID] = true
	}

	return map[string]int{
		"total_connections": len(r.globalConnections),
		"active_sessions":   len(uniqueSessions),
		"watched_topics":    len(r.topicWatchers),
	}
}

func (r *Registry) roleMapLocked(role string) map[string]map[string]*Connection {
	switch role {
	case types.RoleTeacher:
		return r.sessionTeachers
	case types.RoleStudent:
		return r.sessionStudents
	default:
		return nil
	}
}

// removeLocked drops conn from every map and cleans up empty inner maps
func (r *Registry) removeLocked(conn *Connection) {
	userID := conn.GetUserID()
	sessionID := conn.GetSessionID()

	if r.globalConnections[userID] == conn {
		delete(r.globalConnections, userID)
	}
	if roleMap := r.roleMapLocked(conn.GetRole()); roleMap != nil {
		if members, exists := roleMap[sessionID]; exists && members[userID] == conn {
			delete(members, userID)
			if len(members) == 0 {
				delete(roleMap, sessionID)
			}
		}
	}
	for _, topicID := range conn.watchedTopics() {
		r.unwatchLocked(conn, topicID)
	}
}

func (r *Registry) unwatchLocked(conn *Connection, topicID string) {
	key := topicKey(conn.GetSessionID(), topicID)
	if watchers, exists := r.topicWatchers[key]; exists && watchers[conn.GetUserID()] == conn {
		delete(watchers, conn.GetUserID())
		if len(watchers) == 0 {
			delete(r.topicWatchers, key)
		}
	}
}

func subscribers(conns []*Connection) []interfaces.Subscriber {
	out := make([]interfaces.Subscriber, len(conns))
	for i, conn := range conns {
		out[i] = conn
	}
	return out
}

func topicKey(sessionID, topicID string) string {
	return sessionID + "/" + topicID
}
