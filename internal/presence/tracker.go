// Package presence tracks who is connected to each live session right now.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"livesession/internal/clock"
	"livesession/pkg/interfaces"
	"livesession/pkg/types"
)

// Tracker maintains (session, role) -> identities for connected participants
// ARCHITECTURAL DISCOVERY: Presence is best-effort. A missed leave is
// reconciled by the heartbeat countdown, never by assuming a clean close
type Tracker struct {
	broadcaster      interfaces.Broadcaster
	clock            clock.Clock
	heartbeatTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]map[string]*record // sessionID -> identity -> record
	timers   map[string]clock.Timer        // reaperKey -> countdown
}

type record struct {
	role     string
	joinedAt time.Time
	lastSeen time.Time
	gen      uint64
}

// NewTracker creates a presence tracker. A zero heartbeatTimeout disables the reaper
func NewTracker(broadcaster interfaces.Broadcaster, c clock.Clock, heartbeatTimeout time.Duration) *Tracker {
	if c == nil {
		c = clock.Real()
	}
	return &Tracker{
		broadcaster:      broadcaster,
		clock:            c,
		heartbeatTimeout: heartbeatTimeout,
		sessions:         make(map[string]map[string]*record),
		timers:           make(map[string]clock.Timer),
	}
}

// Join upserts the identity and returns the snapshot the joiner should render
// FUNCTIONAL DISCOVERY: Reconnecting with the same identity refreshes the
// existing record instead of adding a second one
func (t *Tracker) Join(sessionID, role, identity string) ([]types.Participant, error) {
	if err := validate(sessionID, role, identity); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	members, ok := t.sessions[sessionID]
	if !ok {
		members = make(map[string]*record)
		t.sessions[sessionID] = members
	}

	existing, present := members[identity]
	switch {
	case present && existing.role == role:
		existing.lastSeen = now
		existing.gen++
	case present:
		// An identity holds one record per session; a role change moves it
		t.emit(sessionID, types.EventUserLeft, existing.role, identity, identity)
		members[identity] = &record{role: role, joinedAt: now, lastSeen: now, gen: existing.gen + 1}
		t.emit(sessionID, types.EventUserJoined, role, identity, identity)
	default:
		members[identity] = &record{role: role, joinedAt: now, lastSeen: now, gen: 1}
		t.emit(sessionID, types.EventUserJoined, role, identity, identity)
	}

	t.armLocked(sessionID, identity, members[identity].gen)
	return t.snapshotLocked(sessionID), nil
}

// Leave removes the identity; an empty role matches whatever role it holds
func (t *Tracker) Leave(sessionID, role, identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(sessionID, role, identity, 0)
}

// Heartbeat records liveness and restarts the reaper countdown
func (t *Tracker) Heartbeat(sessionID, identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.sessions[sessionID][identity]
	if !ok {
		return false
	}
	rec.lastSeen = t.clock.Now()
	rec.gen++
	t.armLocked(sessionID, identity, rec.gen)
	return true
}

// Snapshot returns the currently connected participants sorted by role then identity
func (t *Tracker) Snapshot(sessionID string) []types.Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(sessionID)
}

// IsPresent reports whether identity is connected to the session
func (t *Tracker) IsPresent(sessionID, identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[sessionID][identity]
	return ok
}

// RemoveSession forgets every record of a deleted session without emitting events
func (t *Tracker) RemoveSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for identity := range t.sessions[sessionID] {
		t.stopLocked(reaperKey(sessionID, identity))
	}
	delete(t.sessions, sessionID)
}

// GetStats returns tracker statistics for monitoring
func (t *Tracker) GetStats() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	participants := 0
	for _, members := range t.sessions {
		participants += len(members)
	}
	return map[string]int{
		"sessions":     len(t.sessions),
		"participants": participants,
	}
}

// removeLocked deletes a record; gen > 0 restricts removal to that generation
func (t *Tracker) removeLocked(sessionID, role, identity string, gen uint64) bool {
	members, ok := t.sessions[sessionID]
	if !ok {
		return false
	}
	rec, ok := members[identity]
	if !ok {
		return false
	}
	if role != "" && rec.role != role {
		return false
	}
	if gen > 0 && rec.gen != gen {
		return false
	}

	delete(members, identity)
	if len(members) == 0 {
		delete(t.sessions, sessionID)
	}
	t.stopLocked(reaperKey(sessionID, identity))
	t.emit(sessionID, types.EventUserLeft, rec.role, identity)
	return true
}

func (t *Tracker) snapshotLocked(sessionID string) []types.Participant {
	members := t.sessions[sessionID]
	participants := make([]types.Participant, 0, len(members))
	for identity, rec := range members {
		participants = append(participants, types.Participant{
			Role:     rec.role,
			Identity: identity,
			JoinedAt: rec.joinedAt,
		})
	}
	sort.Slice(participants, func(i, j int) bool {
		if participants[i].Role != participants[j].Role {
			return participants[i].Role < participants[j].Role
		}
		return participants[i].Identity < participants[j].Identity
	})
	return participants
}

// armLocked (re)starts the reaper countdown for one identity
func (t *Tracker) armLocked(sessionID, identity string, gen uint64) {
	if t.heartbeatTimeout <= 0 {
		return
	}
	key := reaperKey(sessionID, identity)
	t.stopLocked(key)
	t.timers[key] = t.clock.AfterFunc(t.heartbeatTimeout, func() {
		t.expire(sessionID, identity, gen)
	})
}

func (t *Tracker) stopLocked(key string) {
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
}

// expire runs when no heartbeat arrived in time
// TECHNICAL DISCOVERY: The generation check discards a countdown that fired
// concurrently with a fresher heartbeat
func (t *Tracker) expire(sessionID, identity string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.removeLocked(sessionID, "", identity, gen) {
		slog.Info("Presence expired after missed heartbeats", "session_id", sessionID, "identity", identity)
	}
}

func (t *Tracker) emit(sessionID, eventType, role, identity string, exclude ...string) {
	if t.broadcaster == nil {
		return
	}
	payload := types.PresencePayload{SessionID: sessionID, Role: role, Identity: identity}
	if _, err := t.broadcaster.Broadcast(types.SessionScope(sessionID), eventType, payload, exclude...); err != nil {
		slog.Warn("Presence broadcast failed", "session_id", sessionID, "event", eventType, "error", err)
	}
}

func validate(sessionID, role, identity string) error {
	if !types.IsValidSessionID(sessionID) {
		return ErrInvalidSessionID
	}
	if !types.IsValidUserID(identity) {
		return ErrInvalidIdentity
	}
	if !types.IsValidRole(role) {
		return ErrInvalidRole
	}
	return nil
}

func reaperKey(sessionID, identity string) string {
	return sessionID + "\x00" + identity
}
