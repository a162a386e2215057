package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"livesession/internal/lifecycle"
	"livesession/internal/matchmaking"
	"livesession/pkg/types"
)

// Request/Response types for JSON serialization
type CreateSessionRequest struct {
	Name string `json:"name"`
}

type SessionResponse struct {
	Session *types.Session `json:"session"`
}

// SessionStateResponse is everything a reconnecting client needs to render a session
type SessionStateResponse struct {
	Session          *types.Session      `json:"session"`
	Participants     []types.Participant `json:"participants"`
	RemainingSeconds int                 `json:"remainingSeconds"`
	ConnectionCount  int                 `json:"connectionCount"`
}

type SetStatusRequest struct {
	Status             types.SessionStatus `json:"status"`
	GracePeriodSeconds int                 `json:"gracePeriodSeconds"`
	ResetGracePeriod   bool                `json:"resetGracePeriod"`
	Message            string              `json:"message"`
}

type SetStatusResponse struct {
	OK               bool           `json:"ok"`
	Session          *types.Session `json:"session"`
	RemainingSeconds int            `json:"remainingSeconds"`
}

type UpsertTopicRequest struct {
	Title                string `json:"title"`
	CollaborationEnabled bool   `json:"collaborationEnabled"`
}

type PresenceRequest struct {
	Role     string `json:"role"`
	Identity string `json:"identity"`
}

type ParticipantsResponse struct {
	Participants []types.Participant `json:"participants"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type WaitingRoomJoinRequest struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
}

type WaitingRoomLeaveRequest struct {
	StudentID string `json:"studentId"`
}

type PairResponse struct {
	Matched bool                     `json:"matched"`
	Pair    *types.CollaborationPair `json:"pair,omitempty"`
}

type WaitingListResponse struct {
	Waiting []types.WaitingEntry `json:"waiting"`
	Count   int                  `json:"count"`
}

type TopicsResponse struct {
	Topics []*types.Topic `json:"topics"`
}

type PairsResponse struct {
	Pairs []*types.CollaborationPair `json:"pairs"`
}

// POST /api/sessions - the caller becomes the owning teacher
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, err)
		return
	}

	session, err := s.deps.Sessions.CreateSession(r.Context(), callerID(r), strings.TrimSpace(req.Name))
	if err != nil {
		sendError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{Session: session})
}

// GET /api/sessions/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := s.deps.Sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		sendError(w, err)
		return
	}

	response := SessionStateResponse{
		Session:          session,
		Participants:     s.deps.Presence.Snapshot(sessionID),
		RemainingSeconds: remainingSeconds(s.deps.Sessions.Remaining(session)),
	}
	if s.deps.Registry != nil {
		response.ConnectionCount = len(s.deps.Registry.GetSessionConnections(sessionID))
	}
	writeJSON(w, http.StatusOK, response)
}

// DELETE /api/sessions/{sessionID}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.DeleteSession(r.Context(), callerID(r), chi.URLParam(r, "sessionID")); err != nil {
		sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// POST /api/sessions/{sessionID}/status
func (s *Server) setStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, err)
		return
	}

	session, err := s.deps.Sessions.SetStatus(r.Context(), lifecycle.SetStatusRequest{
		SessionID:          chi.URLParam(r, "sessionID"),
		CallerID:           callerID(r),
		Status:             req.Status,
		GracePeriodSeconds: req.GracePeriodSeconds,
		ResetGracePeriod:   req.ResetGracePeriod,
		Message:            req.Message,
	})
	if err != nil {
		sendError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SetStatusResponse{
		OK:               true,
		Session:          session,
		RemainingSeconds: remainingSeconds(s.deps.Sessions.Remaining(session)),
	})
}

// GET /api/sessions/{sessionID}/topics
func (s *Server) listTopics(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.deps.Sessions.GetSession(r.Context(), sessionID); err != nil {
		sendError(w, err)
		return
	}

	topics, err := s.deps.Store.ListTopics(r.Context(), sessionID)
	if err != nil {
		sendError(w, err)
		return
	}
	if topics == nil {
		topics = []*types.Topic{}
	}
	writeJSON(w, http.StatusOK, TopicsResponse{Topics: topics})
}

// PUT /api/sessions/{sessionID}/topics/{topicID} - teacher only
func (s *Server) upsertTopic(w http.ResponseWriter, r *http.Request) {
	var req UpsertTopicRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, err)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if len(req.Title) < 1 || len(req.Title) > 200 {
		sendError(w, ErrInvalidTopicTitle)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.authorizeTeacher(r, sessionID); err != nil {
		sendError(w, err)
		return
	}

	topic := &types.Topic{
		SessionID:            sessionID,
		ID:                   chi.URLParam(r, "topicID"),
		Title:                req.Title,
		CollaborationEnabled: req.CollaborationEnabled,
	}
	if err := topic.Validate(); err != nil {
		sendError(w, err)
		return
	}
	if err := s.deps.Store.UpsertTopic(r.Context(), topic); err != nil {
		sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

// POST /api/sessions/{sessionID}/presence/join
// FUNCTIONAL DISCOVERY: Callers join as themselves; the teacher role is
// reserved for the session owner
func (s *Server) presenceJoin(w http.ResponseWriter, r *http.Request) {
	var req PresenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, err)
		return
	}
	identity, err := selfIdentity(r, req.Identity)
	if err != nil {
		sendError(w, err)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	session, err := s.deps.Sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		sendError(w, err)
		return
	}
	if req.Role == types.RoleTeacher && session.TeacherID != identity {
		sendError(w, ErrNotSessionTeacher)
		return
	}

	participants, err := s.deps.Presence.Join(sessionID, req.Role, identity)
	if err != nil {
		sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ParticipantsResponse{Participants: participants})
}

// POST /api/sessions/{sessionID}/presence/leave
func (s *Server) presenceLeave(w http.ResponseWriter, r *http.Request) {
	var req PresenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, err)
		return
	}
	identity, err := selfIdentity(r, req.Identity)
	if err != nil {
		sendError(w, err)
		return
	}

	s.deps.Presence.Leave(chi.URLParam(r, "sessionID"), req.Role, identity)
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// POST /api/sessions/{sessionID}/presence/heartbeat
func (s *Server) presenceHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req PresenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, err)
		return
	}
	identity, err := selfIdentity(r, req.Identity)
	if err != nil {
		sendError(w, err)
		return
	}

	ok := s.deps.Presence.Heartbeat(chi.URLParam(r, "sessionID"), identity)
	writeJSON(w, http.StatusOK, OKResponse{OK: ok})
}

// GET /api/sessions/{sessionID}/presence
func (s *Server) presenceSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ParticipantsResponse{
		Participants: s.deps.Presence.Snapshot(chi.URLParam(r, "sessionID")),
	})
}

// POST /api/sessions/{sessionID}/topics/{topicID}/waiting-room/join
func (s *Server) waitingRoomJoin(w http.ResponseWriter, r *http.Request) {
	var req WaitingRoomJoinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, err)
		return
	}
	studentID, err := selfIdentity(r, req.StudentID)
	if err != nil {
		sendError(w, err)
		return
	}

	result, err := s.deps.Matchmaker.JoinWaitingRoom(r.Context(), matchmaking.JoinRequest{
		SessionID:   chi.URLParam(r, "sessionID"),
		TopicID:     chi.URLParam(r, "topicID"),
		StudentID:   studentID,
		StudentName: req.StudentName,
	})
	if err != nil {
		sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /api/sessions/{sessionID}/topics/{topicID}/waiting-room/leave
func (s *Server) waitingRoomLeave(w http.ResponseWriter, r *http.Request) {
	var req WaitingRoomLeaveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, err)
		return
	}
	studentID, err := selfIdentity(r, req.StudentID)
	if err != nil {
		sendError(w, err)
		return
	}

	err = s.deps.Matchmaker.LeaveWaitingRoom(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "topicID"), studentID)
	if err != nil {
		sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// GET /api/sessions/{sessionID}/topics/{topicID}/pair?student_id=
func (s *Server) currentPair(w http.ResponseWriter, r *http.Request) {
	studentID, err := selfIdentity(r, r.URL.Query().Get("student_id"))
	if err != nil {
		sendError(w, err)
		return
	}

	pair, ok := s.deps.Matchmaker.CurrentPair(chi.URLParam(r, "sessionID"), chi.URLParam(r, "topicID"), studentID)
	writeJSON(w, http.StatusOK, PairResponse{Matched: ok, Pair: pair})
}

// GET /api/sessions/{sessionID}/topics/{topicID}/waiting-room
func (s *Server) waitingList(w http.ResponseWriter, r *http.Request) {
	waiting := s.deps.Matchmaker.Waiting(chi.URLParam(r, "sessionID"), chi.URLParam(r, "topicID"))
	writeJSON(w, http.StatusOK, WaitingListResponse{Waiting: waiting, Count: len(waiting)})
}

// GET /api/sessions/{sessionID}/topics/{topicID}/pairs - teacher only
func (s *Server) listPairs(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.authorizeTeacher(r, sessionID); err != nil {
		sendError(w, err)
		return
	}

	pairs, err := s.deps.Store.ListPairs(r.Context(), sessionID, chi.URLParam(r, "topicID"))
	if err != nil {
		sendError(w, err)
		return
	}
	if pairs == nil {
		pairs = []*types.CollaborationPair{}
	}
	writeJSON(w, http.StatusOK, PairsResponse{Pairs: pairs})
}

// POST /api/sessions/{sessionID}/pairs/{collabSessionID}/release - teacher only
func (s *Server) releasePair(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.authorizeTeacher(r, sessionID); err != nil {
		sendError(w, err)
		return
	}
	if err := s.deps.Matchmaker.ReleasePair(sessionID, chi.URLParam(r, "collabSessionID")); err != nil {
		sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// selfIdentity defaults an omitted identity to the caller and rejects impersonation
func selfIdentity(r *http.Request, claimed string) (string, error) {
	caller := callerID(r)
	if claimed == "" || claimed == caller {
		return caller, nil
	}
	return "", ErrIdentityMismatch
}
