// Package api exposes the coordination core over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"livesession/internal/lifecycle"
	"livesession/internal/matchmaking"
	"livesession/internal/websocket"
	"livesession/pkg/interfaces"
	"livesession/pkg/types"
)

// CallerHeader carries the authenticated caller identity
const CallerHeader = "X-User-ID"

// maxBodyBytes bounds every JSON request body
const maxBodyBytes = 1 << 20

// Sessions is the lifecycle surface used by the API
type Sessions interface {
	CreateSession(ctx context.Context, teacherID, name string) (*types.Session, error)
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	SetStatus(ctx context.Context, req lifecycle.SetStatusRequest) (*types.Session, error)
	DeleteSession(ctx context.Context, callerID, sessionID string) error
	Remaining(session *types.Session) time.Duration
	GetStats() map[string]interface{}
}

// Presence is the presence surface used by the API
type Presence interface {
	Join(sessionID, role, identity string) ([]types.Participant, error)
	Leave(sessionID, role, identity string) bool
	Heartbeat(sessionID, identity string) bool
	Snapshot(sessionID string) []types.Participant
	GetStats() map[string]int
}

// Matchmaker is the waiting room surface used by the API
type Matchmaker interface {
	JoinWaitingRoom(ctx context.Context, req matchmaking.JoinRequest) (*matchmaking.JoinResult, error)
	LeaveWaitingRoom(ctx context.Context, sessionID, topicID, studentID string) error
	CurrentPair(sessionID, topicID, studentID string) (*types.CollaborationPair, bool)
	ReleasePair(sessionID, collabSessionID string) error
	Waiting(sessionID, topicID string) []types.WaitingEntry
	GetStats() map[string]int
}

// Store is the persistence surface used directly by the API
type Store interface {
	interfaces.TopicStore
	ListPairs(ctx context.Context, sessionID, topicID string) ([]*types.CollaborationPair, error)
	HealthCheck(ctx context.Context) error
}

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	GetSessionConnections(sessionID string) []*websocket.Connection
	GetStats() map[string]int
}

// FanoutStats reports dispatcher counters
type FanoutStats interface {
	GetStats() map[string]uint64
}

// Dependencies groups the collaborators of a Server
type Dependencies struct {
	Sessions    Sessions
	Presence    Presence
	Matchmaker  Matchmaker
	Store       Store
	Registry    Registry
	Fanout      FanoutStats
	Authorizer  interfaces.Authorizer
	RateLimiter *RateLimiter

	// WebSocket is mounted at /ws when set
	WebSocket http.HandlerFunc
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps      Dependencies
	router    chi.Router
	startedAt time.Time
}

// NewServer initializes all dependencies and sets up routing
func NewServer(deps Dependencies) *Server {
	if deps.Authorizer == nil {
		deps.Authorizer = lifecycle.OwnerAuthorizer{}
	}
	if deps.RateLimiter == nil {
		deps.RateLimiter = NewRateLimiter(DefaultRequestsPerMinute, nil)
	}

	s := &Server{
		deps:      deps,
		router:    chi.NewRouter(),
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Mutating routes share one rate-limited group; reads
// stay unlimited so reconnecting clients can always rebuild their caches
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.healthCheck)
	if s.deps.WebSocket != nil {
		r.Get("/ws", s.deps.WebSocket)
	}

	r.Route("/api/sessions", func(r chi.Router) {
		r.Use(jsonMiddleware)
		r.Use(callerMiddleware)

		r.Get("/{sessionID}", s.getSession)
		r.Get("/{sessionID}/presence", s.presenceSnapshot)
		r.Get("/{sessionID}/topics", s.listTopics)
		r.Get("/{sessionID}/topics/{topicID}/pair", s.currentPair)
		r.Get("/{sessionID}/topics/{topicID}/pairs", s.listPairs)
		r.Get("/{sessionID}/topics/{topicID}/waiting-room", s.waitingList)

		r.Group(func(r chi.Router) {
			r.Use(s.deps.RateLimiter.Middleware)

			r.Post("/", s.createSession)
			r.Delete("/{sessionID}", s.deleteSession)
			r.Post("/{sessionID}/status", s.setStatus)
			r.Put("/{sessionID}/topics/{topicID}", s.upsertTopic)
			r.Post("/{sessionID}/presence/join", s.presenceJoin)
			r.Post("/{sessionID}/presence/leave", s.presenceLeave)
			r.Post("/{sessionID}/presence/heartbeat", s.presenceHeartbeat)
			r.Post("/{sessionID}/topics/{topicID}/waiting-room/join", s.waitingRoomJoin)
			r.Post("/{sessionID}/topics/{topicID}/waiting-room/leave", s.waitingRoomLeave)
			r.Post("/{sessionID}/pairs/{collabSessionID}/release", s.releasePair)
		})
	})
}

// ServeHTTP implements http.Handler for integration with the standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HealthResponse reports store connectivity and component statistics
type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	Sessions    map[string]interface{} `json:"sessions"`
	Presence    map[string]int         `json:"presence"`
	Matchmaking map[string]int         `json:"matchmaking"`
	Fanout      map[string]uint64      `json:"fanout"`
	System      map[string]interface{} `json:"system"`
}

// ErrorResponse is the consistent error body of every endpoint
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health - returns 503 when the store is unreachable
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
		System: map[string]interface{}{
			"goroutines":     runtime.NumGoroutine(),
			"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		},
	}

	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		response.Status = "unhealthy"
		response.Database = "error: " + err.Error()
	}
	if s.deps.Registry != nil {
		response.Connections = s.deps.Registry.GetStats()
	}
	if s.deps.Sessions != nil {
		response.Sessions = s.deps.Sessions.GetStats()
	}
	if s.deps.Presence != nil {
		response.Presence = s.deps.Presence.GetStats()
	}
	if s.deps.Matchmaker != nil {
		response.Matchmaking = s.deps.Matchmaker.GetStats()
	}
	if s.deps.Fanout != nil {
		response.Fanout = s.deps.Fanout.GetStats()
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status == "unhealthy" {
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// authorizeTeacher loads the session and checks the caller controls it
func (s *Server) authorizeTeacher(r *http.Request, sessionID string) (*types.Session, error) {
	session, err := s.deps.Sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Authorizer.AuthorizeTeacher(r.Context(), session, callerID(r)); err != nil {
		return nil, err
	}
	return session, nil
}

func remainingSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

type callerKey struct{}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(callerKey{}).(string)
	return id
}

// callerMiddleware requires and validates the X-User-ID header
func callerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CallerHeader)
		if id == "" {
			sendError(w, ErrMissingCallerID)
			return
		}
		if !types.IsValidUserID(id) {
			sendError(w, types.ErrInvalidUserID)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, id)))
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins in development - would be restricted in production
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+CallerHeader)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jsonMiddleware sets the JSON content type for all API responses
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// decodeJSON reads a bounded JSON body; an empty body leaves dst untouched
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return ErrInvalidJSON
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// sendError maps err to a status code and writes the consistent error body
// FUNCTIONAL DISCOVERY: Internal failures are logged in full but reported generically
func sendError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
		message = "internal server error"
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
