package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"livesession/pkg/interfaces"
	"livesession/pkg/types"
)

// SessionReader is the lifecycle view the transport needs
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	StatusPayload(session *types.Session, message string) types.SessionStatusPayload
}

// Presence is the presence view the transport drives
type Presence interface {
	Join(sessionID, role, identity string) ([]types.Participant, error)
	Leave(sessionID, role, identity string) bool
	Heartbeat(sessionID, identity string) bool
}

// Config tunes connection heartbeats and buffering
type Config struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// DefaultConfig returns production heartbeat settings
// TECHNICAL DISCOVERY: 60-second read deadline with 30-second ping interval
// provides reliable connection health monitoring for classroom environments
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		WriteTimeout: DefaultWriteTimeout,
		SendBuffer:   DefaultSendBuffer,
	}
}

// clientFrame is the only inbound message shape
type clientFrame struct {
	Type    string `json:"type"`
	TopicID string `json:"topic_id,omitempty"`
}

// Client frame types
const (
	FrameSubscribeWaitingRoom   = "subscribe_waiting_room"
	FrameUnsubscribeWaitingRoom = "unsubscribe_waiting_room"
	FramePing                   = "ping"
	FramePong                   = "pong"
	FrameError                  = "error"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Allow all origins for development
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler manages WebSocket connections and presence
// ARCHITECTURAL DISCOVERY: The transport owns connection lifetime only; presence,
// lifecycle and delivery are reached through narrow interfaces
type Handler struct {
	registry *Registry
	sessions SessionReader
	presence Presence
	config   Config
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, sessions SessionReader, presence Presence, cfg Config) *Handler {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	return &Handler{
		registry: registry,
		sessions: sessions,
		presence: presence,
		config:   cfg,
	}
}

// HandleWebSocket validates the caller, upgrades, joins presence and starts the read pump
// ARCHITECTURAL DISCOVERY: Multi-stage validation (parameters -> session -> WebSocket -> registration)
// ensures proper error handling and prevents invalid connections from consuming resources
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, role, sessionID, err := parseConnectQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		slog.Error("Session lookup failed", "session_id", sessionID, "error", err)
		http.Error(w, "Session validation failed", http.StatusInternalServerError)
		return
	}
	if role == types.RoleTeacher && session.TeacherID != userID {
		http.Error(w, "Not authorized to join this session as teacher", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	wsConn := NewConnection(conn, h.config.SendBuffer, h.config.WriteTimeout)
	_ = wsConn.SetCredentials(userID, role, sessionID)

	replaced, err := h.registry.RegisterConnection(wsConn)
	if err != nil {
		slog.Error("Failed to register connection", "user_id", userID, "error", err)
		_ = wsConn.Close()
		return
	}
	if replaced != nil && replaced.GetSessionID() != sessionID {
		h.presence.Leave(replaced.GetSessionID(), replaced.GetRole(), userID)
	}

	participants, err := h.presence.Join(sessionID, role, userID)
	if err != nil {
		slog.Error("Presence join failed", "session_id", sessionID, "user_id", userID, "error", err)
		h.registry.UnregisterConnection(wsConn)
		_ = wsConn.Close()
		return
	}

	slog.Info("WebSocket connected", "session_id", sessionID, "user_id", userID, "role", role)

	h.sendDirect(wsConn, types.EventPresenceSnapshot, types.PresenceSnapshotPayload{
		SessionID:    sessionID,
		Participants: participants,
	})
	h.sendSessionState(r.Context(), wsConn)

	go h.handleConnection(wsConn)
}

// parseConnectQuery extracts the caller credentials of a connect request
func parseConnectQuery(q url.Values) (userID, role, sessionID string, err error) {
	userID = q.Get("user_id")
	role = q.Get("role")
	sessionID = q.Get("session_id")

	switch {
	case userID == "" || role == "" || sessionID == "":
		err = fmt.Errorf("%w: user_id, role and session_id are required", ErrInvalidParameters)
	case !types.IsValidUserID(userID) || !types.IsValidSessionID(sessionID):
		err = fmt.Errorf("%w: malformed user_id or session_id", ErrInvalidParameters)
	case !types.IsValidRole(role):
		err = fmt.Errorf("%w: role must be 'teacher' or 'student'", ErrInvalidParameters)
	}
	return userID, role, sessionID, err
}

// sendSessionState reads the session again after the presence join so the
// joiner never starts from a state older than what its peers saw
func (h *Handler) sendSessionState(ctx context.Context, conn *Connection) {
	session, err := h.sessions.GetSession(ctx, conn.GetSessionID())
	if err != nil {
		slog.Warn("Session state unavailable", "session_id", conn.GetSessionID(), "error", err)
		return
	}
	h.sendDirect(conn, types.EventSessionState, h.sessions.StatusPayload(session, ""))
}

// sendDirect delivers a per-connection event that bypasses the fan-out
func (h *Handler) sendDirect(conn *Connection, eventType string, payload interface{}) {
	event := &types.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Scope:     types.PersonalScope(conn.GetUserID()),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if err := conn.Send(event); err != nil {
		slog.Warn("Direct send failed", "event", eventType, "user_id", conn.GetUserID(), "error", err)
	}
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
// ARCHITECTURAL DISCOVERY: A missed pong surfaces as a read deadline error, which
// ends the read pump and takes the identity out of presence
func (h *Handler) handleConnection(conn *Connection) {
	sessionID := conn.GetSessionID()
	userID := conn.GetUserID()

	defer func() {
		if h.registry.UnregisterConnection(conn) {
			h.presence.Leave(sessionID, conn.GetRole(), userID)
		}
		_ = conn.Close()
		slog.Info("WebSocket disconnected", "session_id", sessionID, "user_id", userID)
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.PongWait)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		h.presence.Heartbeat(sessionID, userID)
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("WebSocket read ended", "user_id", userID, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := h.handleFrame(conn, data); err != nil {
			_ = conn.WriteJSON(map[string]string{"type": FrameError, "error": err.Error()})
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// handleFrame processes one client frame
func (h *Handler) handleFrame(conn *Connection, data []byte) error {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ErrInvalidJSON
	}

	switch frame.Type {
	case FrameSubscribeWaitingRoom:
		return h.registry.WatchTopic(conn, frame.TopicID)
	case FrameUnsubscribeWaitingRoom:
		h.registry.UnwatchTopic(conn, frame.TopicID)
		return nil
	case FramePing:
		h.presence.Heartbeat(conn.GetSessionID(), conn.GetUserID())
		return conn.WriteJSON(map[string]interface{}{"type": FramePong, "timestamp": time.Now().UTC()})
	default:
		return ErrUnknownFrame
	}
}
