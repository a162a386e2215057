// Package lifecycle owns the active/paused/ended state machine of live sessions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"livesession/internal/clock"
	"livesession/pkg/interfaces"
	"livesession/pkg/types"
)

// DefaultGracePeriod applies when a command carries no grace period
const DefaultGracePeriod = 120 * time.Second

// HardLockHook runs when a paused or ended session's grace period elapses
type HardLockHook func(session *types.Session)

// DeleteHook runs after a session has been deleted
type DeleteHook func(sessionID string)

// Options configures a Manager
type Options struct {
	DefaultGracePeriod time.Duration
	Clock              clock.Clock
	Authorizer         interfaces.Authorizer
}

// SetStatusRequest is a teacher lifecycle command
type SetStatusRequest struct {
	SessionID          string
	CallerID           string
	Status             types.SessionStatus
	GracePeriodSeconds int
	// ResetGracePeriod recomputes the deadline when the status is unchanged
	ResetGracePeriod bool
	Message          string
}

// Manager serializes lifecycle commands per session and publishes every state
// ARCHITECTURAL DISCOVERY: The store is the source of truth; the in-memory
// map is a read-through cache so late-joiner reads never hit the database
type Manager struct {
	store        interfaces.SessionStore
	broadcaster  interfaces.Broadcaster
	authorizer   interfaces.Authorizer
	clock        clock.Clock
	defaultGrace time.Duration

	mu       sync.RWMutex
	sessions map[string]*types.Session

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	countdownMu sync.Mutex
	countdowns  map[string]clock.Timer

	hooksMu       sync.RWMutex
	hardLockHooks []HardLockHook
	deleteHooks   []DeleteHook
}

// NewManager creates a lifecycle manager
func NewManager(store interfaces.SessionStore, broadcaster interfaces.Broadcaster, opts Options) *Manager {
	if opts.DefaultGracePeriod <= 0 {
		opts.DefaultGracePeriod = DefaultGracePeriod
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Authorizer == nil {
		opts.Authorizer = OwnerAuthorizer{}
	}
	return &Manager{
		store:        store,
		broadcaster:  broadcaster,
		authorizer:   opts.Authorizer,
		clock:        opts.Clock,
		defaultGrace: opts.DefaultGracePeriod,
		sessions:     make(map[string]*types.Session),
		locks:        make(map[string]*sync.Mutex),
		countdowns:   make(map[string]clock.Timer),
	}
}

// OnHardLock registers a hook for grace-period expiry
func (m *Manager) OnHardLock(hook HardLockHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hardLockHooks = append(m.hardLockHooks, hook)
}

// OnDelete registers a hook for session deletion
func (m *Manager) OnDelete(hook DeleteHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.deleteHooks = append(m.deleteHooks, hook)
}

// LoadSessions warms the cache from the store and re-arms pending countdowns
func (m *Manager) LoadSessions(ctx context.Context) error {
	sessions, err := m.store.ListLiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load live sessions: %w", err)
	}

	m.mu.Lock()
	for _, session := range sessions {
		m.sessions[session.ID] = session
	}
	m.mu.Unlock()

	for _, session := range sessions {
		m.armCountdown(session)
	}

	slog.Info("Loaded live sessions", "count", len(sessions))
	return nil
}

// CreateSession starts a new active session owned by teacherID
func (m *Manager) CreateSession(ctx context.Context, teacherID, name string) (*types.Session, error) {
	if len(name) < 1 || len(name) > 200 {
		return nil, ErrInvalidSessionName
	}
	if !types.IsValidUserID(teacherID) {
		return nil, ErrInvalidTeacherID
	}

	now := m.clock.Now().UTC()
	session := &types.Session{
		ID:        uuid.New().String(),
		TeacherID: teacherID,
		Name:      name,
		Status:    types.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	slog.Info("Created session", "session_id", session.ID, "teacher_id", teacherID)
	return session.Clone(), nil
}

// GetSession returns the current state of a session
// FUNCTIONAL DISCOVERY: Repeated reads return the published deadline until the
// next explicit SetStatus, so reconnecting clients compute the same remaining time
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.Clone(), nil
}

// SessionStatus returns only the status of a session
func (m *Manager) SessionStatus(ctx context.Context, sessionID string) (types.SessionStatus, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return session.Status, nil
}

// SetStatus applies a teacher lifecycle command and broadcasts the resulting state
func (m *Manager) SetStatus(ctx context.Context, req SetStatusRequest) (*types.Session, error) {
	if !req.Status.IsValid() {
		return nil, ErrInvalidStatus
	}

	lock := m.lockFor(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.load(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			m.dropLock(req.SessionID, lock)
		}
		return nil, err
	}

	if err := m.authorizer.AuthorizeTeacher(ctx, current, req.CallerID); err != nil {
		slog.Warn("Rejected lifecycle command", "session_id", req.SessionID, "caller_id", req.CallerID, "status", req.Status)
		return nil, fmt.Errorf("%w: %s may not control session %s", ErrUnauthorized, req.CallerID, req.SessionID)
	}

	// FUNCTIONAL DISCOVERY: Once an ended session hard-locks, its pools and
	// presence are gone, so the deadline can no longer be extended
	if current.Status == types.StatusEnded && req.Status == types.StatusEnded && req.ResetGracePeriod &&
		current.GracePeriodEndsAt != nil && !m.clock.Now().Before(*current.GracePeriodEndsAt) {
		return nil, fmt.Errorf("%w: session %s already hard-locked", ErrInvalidTransition, req.SessionID)
	}

	if req.Status == current.Status && !(req.ResetGracePeriod && req.Status.HasGracePeriod()) {
		// Same status: keep the running deadline and re-announce for late joiners
		m.broadcast(current, req.Message)
		return current.Clone(), nil
	}

	if req.Status != current.Status && !validTransition(current.Status, req.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, req.Status)
	}

	next := current.Clone()
	next.Status = req.Status
	next.UpdatedAt = m.clock.Now().UTC()
	if req.Status.HasGracePeriod() {
		deadline := clock.Deadline(m.clock, m.gracePeriod(req.GracePeriodSeconds))
		next.GracePeriodEndsAt = &deadline
	} else {
		next.GracePeriodEndsAt = nil
	}

	if err := m.store.UpdateSessionStatus(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to update session status: %w", err)
	}

	m.mu.Lock()
	m.sessions[next.ID] = next
	m.mu.Unlock()

	m.armCountdown(next)
	m.broadcast(next, req.Message)

	slog.Info("Session status changed",
		"session_id", next.ID,
		"from", current.Status,
		"to", next.Status,
		"grace_period_ends_at", next.GracePeriodEndsAt)
	return next.Clone(), nil
}

// DeleteSession removes a session and everything the core holds for it
func (m *Manager) DeleteSession(ctx context.Context, callerID, sessionID string) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := m.authorizer.AuthorizeTeacher(ctx, current, callerID); err != nil {
		return fmt.Errorf("%w: %s may not delete session %s", ErrUnauthorized, callerID, sessionID)
	}

	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	m.stopCountdown(sessionID)
	m.dropLock(sessionID, lock)

	m.hooksMu.RLock()
	hooks := append([]DeleteHook(nil), m.deleteHooks...)
	m.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(sessionID)
	}

	slog.Info("Deleted session", "session_id", sessionID)
	return nil
}

// StatusPayload builds the wire representation of a session's state
func (m *Manager) StatusPayload(session *types.Session, message string) types.SessionStatusPayload {
	return types.SessionStatusPayload{
		SessionID:         session.ID,
		Status:            session.Status,
		GracePeriodEndsAt: session.GracePeriodEndsAt,
		ServerTime:        m.clock.Now().UTC(),
		Message:           statusMessage(session.Status, message),
	}
}

// Remaining returns the time left in a session's grace period
func (m *Manager) Remaining(session *types.Session) time.Duration {
	if session.GracePeriodEndsAt == nil {
		return 0
	}
	return clock.Remaining(m.clock, *session.GracePeriodEndsAt)
}

// GetStats returns manager statistics
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	byStatus := map[types.SessionStatus]int{}
	for _, session := range m.sessions {
		byStatus[session.Status]++
	}
	cached := len(m.sessions)
	m.mu.RUnlock()

	m.countdownMu.Lock()
	countdowns := len(m.countdowns)
	m.countdownMu.Unlock()

	m.locksMu.Lock()
	locks := len(m.locks)
	m.locksMu.Unlock()

	return map[string]interface{}{
		"cached_sessions":  cached,
		"active":           byStatus[types.StatusActive],
		"paused":           byStatus[types.StatusPaused],
		"ended":            byStatus[types.StatusEnded],
		"grace_countdowns": countdowns,
		"session_locks":    locks,
	}
}

// load reads the cache first and falls back to the store
func (m *Manager) load(ctx context.Context, sessionID string) (*types.Session, error) {
	if !types.IsValidSessionID(sessionID) {
		return nil, ErrInvalidSessionID
	}

	m.mu.RLock()
	session, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return session, nil
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if cached, ok := m.sessions[sessionID]; ok {
		session = cached
	} else {
		m.sessions[sessionID] = session
	}
	m.mu.Unlock()
	return session, nil
}

func (m *Manager) broadcast(session *types.Session, message string) {
	if m.broadcaster == nil {
		return
	}
	payload := m.StatusPayload(session, message)
	if _, err := m.broadcaster.Broadcast(types.SessionScope(session.ID), types.EventSessionStatusChanged, payload); err != nil {
		slog.Warn("Session status broadcast failed", "session_id", session.ID, "error", err)
	}
}

func (m *Manager) gracePeriod(seconds int) time.Duration {
	if seconds <= 0 {
		return m.defaultGrace
	}
	return time.Duration(seconds) * time.Second
}

func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}

// dropLock forgets the mutex of a session that no longer exists; callers
// already waiting on it find the session gone when they acquire it
func (m *Manager) dropLock(sessionID string, lock *sync.Mutex) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	if m.locks[sessionID] == lock {
		delete(m.locks, sessionID)
	}
}

// armCountdown schedules the hard lock for a session's published deadline
func (m *Manager) armCountdown(session *types.Session) {
	m.stopCountdown(session.ID)
	if session.GracePeriodEndsAt == nil {
		return
	}

	sessionID := session.ID
	deadline := *session.GracePeriodEndsAt
	timer := m.clock.AfterFunc(clock.Remaining(m.clock, deadline), func() {
		m.graceElapsed(sessionID, deadline)
	})

	m.countdownMu.Lock()
	m.countdowns[sessionID] = timer
	m.countdownMu.Unlock()
}

func (m *Manager) stopCountdown(sessionID string) {
	m.countdownMu.Lock()
	defer m.countdownMu.Unlock()
	if timer, ok := m.countdowns[sessionID]; ok {
		timer.Stop()
		delete(m.countdowns, sessionID)
	}
}

// graceElapsed runs the hard-lock hooks unless a newer command replaced the deadline
func (m *Manager) graceElapsed(sessionID string, deadline time.Time) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	session, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok || session.GracePeriodEndsAt == nil || !session.GracePeriodEndsAt.Equal(deadline) {
		return
	}

	m.countdownMu.Lock()
	delete(m.countdowns, sessionID)
	m.countdownMu.Unlock()

	slog.Info("Grace period elapsed", "session_id", sessionID, "status", session.Status)

	m.hooksMu.RLock()
	hooks := append([]HardLockHook(nil), m.hardLockHooks...)
	m.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(session.Clone())
	}
}

// validTransition encodes the state machine; ended is terminal
func validTransition(from, to types.SessionStatus) bool {
	switch from {
	case types.StatusActive:
		return to == types.StatusPaused || to == types.StatusEnded
	case types.StatusPaused:
		return to == types.StatusActive || to == types.StatusEnded
	default:
		return false
	}
}

func statusMessage(status types.SessionStatus, message string) string {
	if message != "" {
		return message
	}
	switch status {
	case types.StatusPaused:
		return "Session paused by teacher"
	case types.StatusEnded:
		return "Session ended by teacher"
	default:
		return "Session is active"
	}
}
