package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"livesession/internal/app"
	"livesession/internal/config"
)

// startService runs the full application on an ephemeral port backed by a temp database
func startService(t *testing.T) string {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "livesession.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Shutdown error: %v", err)
		}
	})

	return "http://" + application.GetAddr()
}

// call issues a JSON request as caller and decodes the response into out when non-nil
func call(t *testing.T, baseURL, method, path, caller string, body, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", caller)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// createSession creates a session for teacherID with one collaborative topic
func createSession(t *testing.T, baseURL, teacherID, topicID string) string {
	t.Helper()

	var created struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	if code := call(t, baseURL, "POST", "/api/sessions", teacherID, map[string]string{"name": "Algebra"}, &created); code != http.StatusCreated {
		t.Fatalf("Create session returned %d", code)
	}

	topic := map[string]interface{}{"title": "Linear equations", "collaborationEnabled": true}
	if code := call(t, baseURL, "PUT", "/api/sessions/"+created.Session.ID+"/topics/"+topicID, teacherID, topic, nil); code != http.StatusOK {
		t.Fatalf("Upsert topic returned %d", code)
	}
	return created.Session.ID
}

// event is a decoded push frame
type event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// TestClient represents a WebSocket client for testing
type TestClient struct {
	UserID    string
	Role      string
	SessionID string

	conn   *websocket.Conn
	events chan event
	done   chan struct{}

	writeMu sync.Mutex
}

// connect dials the push channel and starts collecting frames
func connect(t *testing.T, baseURL, userID, role, sessionID string) *TestClient {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("Invalid server URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	query := u.Query()
	query.Set("user_id", userID)
	query.Set("role", role)
	query.Set("session_id", sessionID)
	u.RawQuery = query.Encode()

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Failed to connect %s (status %d): %v", userID, status, err)
	}

	tc := &TestClient{
		UserID:    userID,
		Role:      role,
		SessionID: sessionID,
		conn:      conn,
		events:    make(chan event, 100),
		done:      make(chan struct{}),
	}
	go tc.readLoop()
	t.Cleanup(tc.Close)
	return tc
}

func (tc *TestClient) readLoop() {
	defer close(tc.done)
	for {
		var e event
		if err := tc.conn.ReadJSON(&e); err != nil {
			return
		}
		select {
		case tc.events <- e:
		default:
		}
	}
}

// Send writes a client frame
func (tc *TestClient) Send(t *testing.T, frame interface{}) {
	t.Helper()
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	if err := tc.conn.WriteJSON(frame); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}
}

// WaitFor returns the next event of eventType, skipping others
func (tc *TestClient) WaitFor(t *testing.T, eventType string, payload interface{}) event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-tc.events:
			if e.Type != eventType {
				continue
			}
			if payload != nil {
				if err := json.Unmarshal(e.Payload, payload); err != nil {
					t.Fatalf("Failed to decode %s payload: %v", eventType, err)
				}
			}
			return e
		case <-tc.done:
			t.Fatalf("%s disconnected while waiting for %s", tc.UserID, eventType)
		case <-timeout:
			t.Fatalf("%s timed out waiting for %s", tc.UserID, eventType)
		}
	}
}

// ExpectNone fails if an event of eventType arrives within the window
func (tc *TestClient) ExpectNone(t *testing.T, eventType string, window time.Duration) {
	t.Helper()
	timeout := time.After(window)
	for {
		select {
		case e := <-tc.events:
			if e.Type == eventType {
				t.Fatalf("%s unexpectedly received %s", tc.UserID, eventType)
			}
		case <-timeout:
			return
		}
	}
}

// Sync round-trips a ping frame so every earlier frame has been processed
func (tc *TestClient) Sync(t *testing.T) {
	t.Helper()
	tc.Send(t, map[string]string{"type": "ping"})
	tc.WaitFor(t, "pong", nil)
}

// Close ends the connection
func (tc *TestClient) Close() {
	tc.writeMu.Lock()
	_ = tc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	tc.writeMu.Unlock()
	_ = tc.conn.Close()
}

// Closed reports whether the server closed the connection within the window
func (tc *TestClient) Closed(window time.Duration) bool {
	select {
	case <-tc.done:
		return true
	case <-time.After(window):
		return false
	}
}

func sessionPath(sessionID string, parts ...string) string {
	path := "/api/sessions/" + sessionID
	for _, p := range parts {
		path += "/" + p
	}
	return path
}

func ids(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}
