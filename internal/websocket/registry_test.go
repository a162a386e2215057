package websocket

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"livesession/pkg/interfaces"
	"livesession/pkg/types"
)

// newTestConn builds an authenticated connection without a socket
func newTestConn(userID, role, sessionID string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Connection{
		writeCh: make(chan []byte, 10),
		topics:  make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	_ = conn.SetCredentials(userID, role, sessionID)
	return conn
}

func TestRegistry_DirectoryCompliance(t *testing.T) {
	var _ interfaces.Directory = NewRegistry()
}

func TestRegistry_RegisterConnectionValidation(t *testing.T) {
	registry := NewRegistry()

	if _, err := registry.RegisterConnection(nil); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}

	unauthenticated := &Connection{topics: map[string]struct{}{}}
	if _, err := registry.RegisterConnection(unauthenticated); err != ErrConnectionNotAuthenticated {
		t.Errorf("Expected ErrConnectionNotAuthenticated, got %v", err)
	}
}

func TestRegistry_SessionLookups(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterConnection(newTestConn("teacher1", types.RoleTeacher, "session1"))
	registry.RegisterConnection(newTestConn("alice", types.RoleStudent, "session1"))
	registry.RegisterConnection(newTestConn("bob", types.RoleStudent, "session2"))

	if got := len(registry.SessionSubscribers("session1")); got != 2 {
		t.Errorf("session1 subscribers = %d, want 2", got)
	}
	if got := len(registry.SessionSubscribers("session2")); got != 1 {
		t.Errorf("session2 subscribers = %d, want 1", got)
	}
	if got := len(registry.SessionSubscribers("missing")); got != 0 {
		t.Errorf("missing session subscribers = %d", got)
	}

	personal := registry.PersonalSubscribers("alice")
	if len(personal) != 1 || personal[0].GetUserID() != "alice" {
		t.Errorf("personal subscribers = %v", personal)
	}
	if registry.PersonalSubscribers("nobody") != nil {
		t.Error("unknown identity should have no subscribers")
	}

	stats := registry.GetStats()
	if stats["total_connections"] != 3 || stats["active_sessions"] != 2 {
		t.Errorf("stats = %v", stats)
	}
}

func TestRegistry_ConnectionReplacement(t *testing.T) {
	registry := NewRegistry()
	first := newTestConn("alice", types.RoleStudent, "session1")
	second := newTestConn("alice", types.RoleStudent, "session1")

	if replaced, _ := registry.RegisterConnection(first); replaced != nil {
		t.Error("first registration should replace nothing")
	}
	replaced, err := registry.RegisterConnection(second)
	if err != nil {
		t.Fatalf("replacement failed: %v", err)
	}
	if replaced != first {
		t.Error("replacement should return the previous connection")
	}

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Error("replaced connection should be closed")
	}

	// The stale connection's cleanup must not remove its successor
	if registry.UnregisterConnection(first) {
		t.Error("stale connection reported as unregistered")
	}
	if conn, ok := registry.GetUserConnection("alice"); !ok || conn != second {
		t.Error("successor connection was removed")
	}
	if got := len(registry.SessionSubscribers("session1")); got != 1 {
		t.Errorf("session subscribers = %d after replacement", got)
	}
}

func TestRegistry_UnregisterConnection(t *testing.T) {
	registry := NewRegistry()
	conn := newTestConn("alice", types.RoleStudent, "session1")
	registry.RegisterConnection(conn)
	registry.WatchTopic(conn, "topic1")

	if !registry.UnregisterConnection(conn) {
		t.Fatal("registered connection should unregister")
	}
	if registry.UnregisterConnection(conn) {
		t.Error("second unregister should be a no-op")
	}
	if registry.UnregisterConnection(nil) {
		t.Error("nil unregister should be a no-op")
	}

	stats := registry.GetStats()
	if stats["total_connections"] != 0 || stats["active_sessions"] != 0 || stats["watched_topics"] != 0 {
		t.Errorf("registry not empty: %v", stats)
	}
}

func TestRegistry_TopicWatchers(t *testing.T) {
	registry := NewRegistry()
	alice := newTestConn("alice", types.RoleStudent, "session1")
	bob := newTestConn("bob", types.RoleStudent, "session1")
	registry.RegisterConnection(alice)
	registry.RegisterConnection(bob)

	if err := registry.WatchTopic(alice, "topic1"); err != nil {
		t.Fatalf("WatchTopic failed: %v", err)
	}
	registry.WatchTopic(bob, "topic1")
	registry.WatchTopic(bob, "topic2")

	if got := len(registry.TopicSubscribers("session1", "topic1")); got != 2 {
		t.Errorf("topic1 watchers = %d, want 2", got)
	}
	if got := len(registry.TopicSubscribers("session2", "topic1")); got != 0 {
		t.Errorf("watchers leaked across sessions: %d", got)
	}

	registry.UnwatchTopic(bob, "topic1")
	registry.UnwatchTopic(bob, "topic1")
	if got := len(registry.TopicSubscribers("session1", "topic1")); got != 1 {
		t.Errorf("topic1 watchers after unwatch = %d", got)
	}

	if err := registry.WatchTopic(alice, ""); err == nil {
		t.Error("empty topic id should be rejected")
	}

	stranger := newTestConn("carol", types.RoleStudent, "session1")
	if err := registry.WatchTopic(stranger, "topic1"); err != ErrNotRegistered {
		t.Errorf("Expected ErrNotRegistered, got %v", err)
	}
}

func TestRegistry_ConcurrentRegistrationAndLookup(t *testing.T) {
	registry := NewRegistry()
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			conn := newTestConn(fmt.Sprintf("student%d", i), types.RoleStudent, "session1")
			registry.RegisterConnection(conn)
			registry.WatchTopic(conn, "topic1")
			if i%2 == 0 {
				registry.UnregisterConnection(conn)
			}
		}(i)
		go func() {
			defer wg.Done()
			_ = registry.SessionSubscribers("session1")
			_ = registry.TopicSubscribers("session1", "topic1")
		}()
	}
	wg.Wait()

	if got := len(registry.SessionSubscribers("session1")); got != n/2 {
		t.Errorf("session subscribers = %d, want %d", got, n/2)
	}
	if got := len(registry.TopicSubscribers("session1", "topic1")); got != n/2 {
		t.Errorf("topic subscribers = %d, want %d", got, n/2)
	}
}
