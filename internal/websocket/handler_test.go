package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"livesession/pkg/interfaces"
	"livesession/pkg/types"
)

// Mock implementations for testing
type mockSessions struct {
	sessions map[string]*types.Session
}

func (m *mockSessions) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *mockSessions) StatusPayload(session *types.Session, message string) types.SessionStatusPayload {
	return types.SessionStatusPayload{
		SessionID:         session.ID,
		Status:            session.Status,
		GracePeriodEndsAt: session.GracePeriodEndsAt,
		ServerTime:        time.Now().UTC(),
		Message:           message,
	}
}

type presenceCall struct {
	op       string
	session  string
	role     string
	identity string
}

type mockPresence struct {
	mu    sync.Mutex
	calls []presenceCall
}

func (m *mockPresence) record(c presenceCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

func (m *mockPresence) Join(sessionID, role, identity string) ([]types.Participant, error) {
	m.record(presenceCall{"join", sessionID, role, identity})
	return []types.Participant{{Role: role, Identity: identity}}, nil
}

func (m *mockPresence) Leave(sessionID, role, identity string) bool {
	m.record(presenceCall{"leave", sessionID, role, identity})
	return true
}

func (m *mockPresence) Heartbeat(sessionID, identity string) bool {
	m.record(presenceCall{"heartbeat", sessionID, "", identity})
	return true
}

func (m *mockPresence) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func newTestHandler(t *testing.T) (*httptest.Server, *Registry, *mockPresence) {
	t.Helper()
	deadline := time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC)
	sessions := &mockSessions{sessions: map[string]*types.Session{
		"session1": {ID: "session1", TeacherID: "teacher1", Name: "Algebra", Status: types.StatusActive},
		"session2": {ID: "session2", TeacherID: "teacher1", Name: "Biology", Status: types.StatusPaused, GracePeriodEndsAt: &deadline},
	}}
	registry := NewRegistry()
	presence := &mockPresence{}
	handler := NewHandler(registry, sessions, presence, DefaultConfig())

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)
	return server, registry, presence
}

func dial(t *testing.T, server *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

type rawEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readEvent(t *testing.T, conn *websocket.Conn) rawEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event rawEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return event
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHandler_QueryParameterValidation(t *testing.T) {
	server, _, _ := newTestHandler(t)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing parameters", "user_id=alice", http.StatusBadRequest},
		{"invalid user id", "user_id=a%20b&role=student&session_id=session1", http.StatusBadRequest},
		{"invalid role", "user_id=alice&role=instructor&session_id=session1", http.StatusBadRequest},
		{"unknown session", "user_id=alice&role=student&session_id=missing", http.StatusNotFound},
		{"foreign teacher", "user_id=teacher2&role=teacher&session_id=session1", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := dial(t, server, tt.query)
			if err == nil {
				t.Fatal("expected handshake failure")
			}
			if resp == nil || resp.StatusCode != tt.status {
				t.Errorf("status = %v, want %d", resp, tt.status)
			}
		})
	}
}

func TestParseConnectQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{"valid student", "user_id=alice&role=student&session_id=session1", false},
		{"valid teacher", "user_id=teacher1&role=teacher&session_id=session1", false},
		{"missing role", "user_id=alice&session_id=session1", true},
		{"malformed session id", "user_id=alice&role=student&session_id=a%20b", true},
		{"unknown role", "user_id=alice&role=admin&session_id=session1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("bad test query: %v", err)
			}
			userID, role, sessionID, err := parseConnectQuery(q)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidParameters) {
					t.Errorf("got %v, want ErrInvalidParameters", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if userID != q.Get("user_id") || role != q.Get("role") || sessionID != q.Get("session_id") {
				t.Errorf("parsed %s/%s/%s from %s", userID, role, sessionID, tt.query)
			}
		})
	}
}

func TestHandler_ConnectSendsSnapshotAndState(t *testing.T) {
	server, registry, presence := newTestHandler(t)

	conn, _, err := dial(t, server, "user_id=alice&role=student&session_id=session2")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	snapshot := readEvent(t, conn)
	if snapshot.Type != types.EventPresenceSnapshot || snapshot.ID == "" {
		t.Fatalf("first frame = %+v", snapshot)
	}
	var participants types.PresenceSnapshotPayload
	json.Unmarshal(snapshot.Payload, &participants)
	if len(participants.Participants) != 1 || participants.Participants[0].Identity != "alice" {
		t.Errorf("snapshot payload = %+v", participants)
	}

	state := readEvent(t, conn)
	if state.Type != types.EventSessionState {
		t.Fatalf("second frame = %+v", state)
	}
	var status types.SessionStatusPayload
	json.Unmarshal(state.Payload, &status)
	if status.Status != types.StatusPaused || status.GracePeriodEndsAt == nil {
		t.Errorf("session-state payload = %+v", status)
	}

	if _, ok := registry.GetUserConnection("alice"); !ok {
		t.Error("connection not registered")
	}
	if presence.count("join") != 1 {
		t.Errorf("presence joins = %d", presence.count("join"))
	}
}

func TestHandler_WaitingRoomFramesAndPing(t *testing.T) {
	server, registry, presence := newTestHandler(t)

	conn, _, err := dial(t, server, "user_id=alice&role=student&session_id=session1")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	readEvent(t, conn)
	readEvent(t, conn)

	conn.WriteJSON(map[string]string{"type": FrameSubscribeWaitingRoom, "topic_id": "topic1"})
	waitFor(t, func() bool { return len(registry.TopicSubscribers("session1", "topic1")) == 1 })

	conn.WriteJSON(map[string]string{"type": FramePing})
	if pong := readEvent(t, conn); pong.Type != FramePong {
		t.Errorf("expected pong, got %+v", pong)
	}
	waitFor(t, func() bool { return presence.count("heartbeat") == 1 })

	conn.WriteJSON(map[string]string{"type": "bogus"})
	if frame := readEvent(t, conn); frame.Type != FrameError {
		t.Errorf("expected error frame, got %+v", frame)
	}

	conn.WriteJSON(map[string]string{"type": FrameUnsubscribeWaitingRoom, "topic_id": "topic1"})
	waitFor(t, func() bool { return len(registry.TopicSubscribers("session1", "topic1")) == 0 })
}

func TestHandler_DisconnectLeavesPresence(t *testing.T) {
	server, registry, presence := newTestHandler(t)

	conn, _, err := dial(t, server, "user_id=alice&role=student&session_id=session1")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	readEvent(t, conn)
	conn.Close()

	waitFor(t, func() bool { return presence.count("leave") == 1 })
	if _, ok := registry.GetUserConnection("alice"); ok {
		t.Error("connection still registered after disconnect")
	}
}

func TestHandler_ReconnectKeepsPresence(t *testing.T) {
	server, registry, presence := newTestHandler(t)

	first, _, err := dial(t, server, "user_id=alice&role=student&session_id=session1")
	if err != nil {
		t.Fatalf("first dial failed: %v", err)
	}
	defer first.Close()
	readEvent(t, first)

	second, _, err := dial(t, server, "user_id=alice&role=student&session_id=session1")
	if err != nil {
		t.Fatalf("second dial failed: %v", err)
	}
	defer second.Close()
	readEvent(t, second)

	// The replaced socket is closed by the server
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	time.Sleep(50 * time.Millisecond)
	if presence.count("leave") != 0 {
		t.Error("replaced connection must not leave presence")
	}
	if got := len(registry.SessionSubscribers("session1")); got != 1 {
		t.Errorf("session subscribers = %d, want 1", got)
	}
}

func TestHandler_TeacherConnects(t *testing.T) {
	server, registry, _ := newTestHandler(t)

	conn, _, err := dial(t, server, "user_id=teacher1&role=teacher&session_id=session1")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	readEvent(t, conn)

	subs := registry.SessionSubscribers("session1")
	if len(subs) != 1 || subs[0].GetRole() != types.RoleTeacher {
		t.Errorf("teacher subscriber = %v", subs)
	}
}
