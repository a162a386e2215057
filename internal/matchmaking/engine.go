// Package matchmaking pairs students waiting on the same collaborative topic.
package matchmaking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"livesession/internal/clock"
	"livesession/pkg/interfaces"
	"livesession/pkg/types"
)

// StatusSource reports the lifecycle status of a session
type StatusSource interface {
	SessionStatus(ctx context.Context, sessionID string) (types.SessionStatus, error)
}

// JoinRequest asks to enter a topic's waiting room
type JoinRequest struct {
	SessionID   string
	TopicID     string
	StudentID   string
	StudentName string
}

// JoinResult is returned synchronously to the joining student
type JoinResult struct {
	Matched         bool          `json:"matched"`
	CollabSessionID string        `json:"collabSessionId,omitempty"`
	ConversationID  string        `json:"conversationId,omitempty"`
	Partner         *types.Member `json:"partner,omitempty"`
	IsInitiator     bool          `json:"isInitiator"`
}

// pool is the waiting room of one (session, topic)
// ARCHITECTURAL DISCOVERY: The pool mutex covers read-pick-remove-record as one
// step, so two concurrent joiners can never both claim the same waiting student
type pool struct {
	mu      sync.Mutex
	waiting []types.WaitingEntry
	open    map[string]*types.CollaborationPair
}

type poolKey struct {
	sessionID string
	topicID   string
}

type partnerNotice struct {
	studentID string
	payload   types.PartnerFoundPayload
}

// Engine owns every waiting pool and the open pairs created from them
type Engine struct {
	status      StatusSource
	topics      interfaces.TopicStore
	pairs       interfaces.PairStore
	broadcaster interfaces.Broadcaster
	clock       clock.Clock

	mu    sync.Mutex
	pools map[poolKey]*pool
	byID  map[string]poolKey
}

// NewEngine creates a matchmaking engine; pairs may be nil when pair metadata is not recorded
func NewEngine(status StatusSource, topics interfaces.TopicStore, pairs interfaces.PairStore, broadcaster interfaces.Broadcaster, c clock.Clock) *Engine {
	if c == nil {
		c = clock.Real()
	}
	return &Engine{
		status:      status,
		topics:      topics,
		pairs:       pairs,
		broadcaster: broadcaster,
		clock:       c,
		pools:       make(map[poolKey]*pool),
		byID:        make(map[string]poolKey),
	}
}

// JoinWaitingRoom matches the student with the oldest waiting peer or queues them
// FUNCTIONAL DISCOVERY: The student already waiting becomes the initiator and
// learns about the match by push; the joiner learns synchronously
func (e *Engine) JoinWaitingRoom(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	if err := validateJoin(req); err != nil {
		return nil, err
	}
	req.StudentName = strings.TrimSpace(req.StudentName)

	if err := e.checkPreconditions(ctx, req.SessionID, req.TopicID); err != nil {
		return nil, err
	}

	key := poolKey{req.SessionID, req.TopicID}
	p := e.pool(key)

	p.mu.Lock()

	if pair, ok := p.open[req.StudentID]; ok {
		p.mu.Unlock()
		return resultFor(pair, req.StudentID), nil
	}

	partnerIdx := -1
	for i, entry := range p.waiting {
		if entry.StudentID != req.StudentID {
			partnerIdx = i
			break
		}
	}

	if partnerIdx < 0 {
		p.upsertLocked(types.WaitingEntry{
			SessionID:   req.SessionID,
			TopicID:     req.TopicID,
			StudentID:   req.StudentID,
			StudentName: req.StudentName,
			JoinedAt:    e.clock.Now().UTC(),
		})
		e.emitWaiting(req.SessionID, req.TopicID, len(p.waiting))
		p.mu.Unlock()

		slog.Info("Student waiting for partner", "session_id", req.SessionID, "topic_id", req.TopicID, "student_id", req.StudentID)
		return &JoinResult{Matched: false}, nil
	}

	first := p.waiting[partnerIdx]
	pair := &types.CollaborationPair{
		CollabSessionID: uuid.New().String(),
		ConversationID:  uuid.New().String(),
		SessionID:       req.SessionID,
		TopicID:         req.TopicID,
		Participants: [2]types.Member{
			{ID: first.StudentID, Name: first.StudentName},
			{ID: req.StudentID, Name: req.StudentName},
		},
		InitiatorID: first.StudentID,
		CreatedAt:   e.clock.Now().UTC(),
	}

	if e.pairs != nil {
		if err := e.pairs.StorePair(ctx, pair); err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("failed to record collaboration pair: %w", err)
		}
	}

	p.removeLocked(first.StudentID)
	p.removeLocked(req.StudentID)
	p.open[first.StudentID] = pair
	p.open[req.StudentID] = pair

	e.mu.Lock()
	e.byID[pair.CollabSessionID] = key
	e.mu.Unlock()

	// Broadcast only enqueues, so emitting under the pool lock keeps
	// waiting-room counts in the same order as the pool changes
	e.notifyPartner(partnerNotice{
		studentID: first.StudentID,
		payload: types.PartnerFoundPayload{
			SessionID:       pair.SessionID,
			TopicID:         pair.TopicID,
			CollabSessionID: pair.CollabSessionID,
			ConversationID:  pair.ConversationID,
			Partner:         pair.Participants[1],
			IsInitiator:     true,
		},
	})
	e.emitWaiting(req.SessionID, req.TopicID, len(p.waiting))
	p.mu.Unlock()

	slog.Info("Students paired",
		"session_id", req.SessionID,
		"topic_id", req.TopicID,
		"collab_session_id", pair.CollabSessionID,
		"initiator_id", first.StudentID,
		"student_id", req.StudentID)

	return resultFor(pair, req.StudentID), nil
}

// LeaveWaitingRoom removes a waiting entry; it is a no-op for unknown or already matched students
func (e *Engine) LeaveWaitingRoom(ctx context.Context, sessionID, topicID, studentID string) error {
	p := e.existingPool(poolKey{sessionID, topicID})
	if p == nil {
		return nil
	}

	p.mu.Lock()
	removed := p.removeLocked(studentID)
	if removed {
		e.emitWaiting(sessionID, topicID, len(p.waiting))
	}
	p.mu.Unlock()

	if removed {
		slog.Info("Student left waiting room", "session_id", sessionID, "topic_id", topicID, "student_id", studentID)
	}
	return nil
}

// CurrentPair returns the open pair of a student, if any
func (e *Engine) CurrentPair(sessionID, topicID, studentID string) (*types.CollaborationPair, bool) {
	p := e.existingPool(poolKey{sessionID, topicID})
	if p == nil {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	pair, ok := p.open[studentID]
	if !ok {
		return nil, false
	}
	c := *pair
	return &c, true
}

// ReleasePair frees both students of a finished collaboration to queue again.
// A pair that belongs to another session is reported as not found.
func (e *Engine) ReleasePair(sessionID, collabSessionID string) error {
	e.mu.Lock()
	key, ok := e.byID[collabSessionID]
	if !ok || key.sessionID != sessionID {
		e.mu.Unlock()
		return ErrPairNotFound
	}
	delete(e.byID, collabSessionID)
	p := e.pools[key]
	e.mu.Unlock()

	if p == nil {
		return ErrPairNotFound
	}

	p.mu.Lock()
	for studentID, pair := range p.open {
		if pair.CollabSessionID == collabSessionID {
			delete(p.open, studentID)
		}
	}
	p.mu.Unlock()

	slog.Info("Collaboration pair released", "session_id", sessionID, "collab_session_id", collabSessionID)
	return nil
}

// Waiting returns the waiting entries of a topic, oldest first
func (e *Engine) Waiting(sessionID, topicID string) []types.WaitingEntry {
	p := e.existingPool(poolKey{sessionID, topicID})
	if p == nil {
		return []types.WaitingEntry{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.WaitingEntry, len(p.waiting))
	copy(out, p.waiting)
	return out
}

// CloseSession drops every pool and open pair of a session
func (e *Engine) CloseSession(sessionID string) {
	e.mu.Lock()
	dropped := 0
	for key := range e.pools {
		if key.sessionID == sessionID {
			delete(e.pools, key)
			dropped++
		}
	}
	for id, key := range e.byID {
		if key.sessionID == sessionID {
			delete(e.byID, id)
		}
	}
	e.mu.Unlock()

	if dropped > 0 {
		slog.Info("Closed waiting rooms", "session_id", sessionID, "pools", dropped)
	}
}

// GetStats returns engine statistics
func (e *Engine) GetStats() map[string]int {
	e.mu.Lock()
	pools := make([]*pool, 0, len(e.pools))
	for _, p := range e.pools {
		pools = append(pools, p)
	}
	openPairs := len(e.byID)
	e.mu.Unlock()

	waiting := 0
	for _, p := range pools {
		p.mu.Lock()
		waiting += len(p.waiting)
		p.mu.Unlock()
	}

	return map[string]int{
		"pools":      len(pools),
		"waiting":    waiting,
		"open_pairs": openPairs,
	}
}

func (e *Engine) checkPreconditions(ctx context.Context, sessionID, topicID string) error {
	status, err := e.status.SessionStatus(ctx, sessionID)
	if err != nil {
		return err
	}
	if status == types.StatusEnded {
		return ErrSessionEnded
	}

	topic, err := e.topics.GetTopic(ctx, sessionID, topicID)
	if err != nil {
		return err
	}
	if !topic.CollaborationEnabled {
		return ErrCollaborationDisabled
	}
	return nil
}

func (e *Engine) pool(key poolKey) *pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pools[key]
	if !ok {
		p = &pool{open: make(map[string]*types.CollaborationPair)}
		e.pools[key] = p
	}
	return p
}

func (e *Engine) existingPool(key poolKey) *pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools[key]
}

func (e *Engine) notifyPartner(notice partnerNotice) {
	if e.broadcaster == nil {
		return
	}
	if _, err := e.broadcaster.Broadcast(types.PersonalScope(notice.studentID), types.EventPartnerFound, notice.payload); err != nil {
		slog.Warn("Partner notification failed", "student_id", notice.studentID, "collab_session_id", notice.payload.CollabSessionID, "error", err)
	}
}

func (e *Engine) emitWaiting(sessionID, topicID string, waiting int) {
	if e.broadcaster == nil {
		return
	}
	payload := types.WaitingRoomPayload{SessionID: sessionID, TopicID: topicID, Waiting: waiting}
	if _, err := e.broadcaster.Broadcast(types.WaitingRoomScope(sessionID, topicID), types.EventWaitingRoomUpdated, payload); err != nil {
		slog.Warn("Waiting room update failed", "session_id", sessionID, "topic_id", topicID, "error", err)
	}
}

// upsertLocked refreshes the name of an existing entry but keeps its queue position
func (p *pool) upsertLocked(entry types.WaitingEntry) {
	for i := range p.waiting {
		if p.waiting[i].StudentID == entry.StudentID {
			p.waiting[i].StudentName = entry.StudentName
			return
		}
	}
	p.waiting = append(p.waiting, entry)
	sort.SliceStable(p.waiting, func(i, j int) bool {
		return p.waiting[i].JoinedAt.Before(p.waiting[j].JoinedAt)
	})
}

func (p *pool) removeLocked(studentID string) bool {
	for i, entry := range p.waiting {
		if entry.StudentID == studentID {
			p.waiting = append(p.waiting[:i], p.waiting[i+1:]...)
			return true
		}
	}
	return false
}

func resultFor(pair *types.CollaborationPair, studentID string) *JoinResult {
	partner, _ := pair.PartnerOf(studentID)
	return &JoinResult{
		Matched:         true,
		CollabSessionID: pair.CollabSessionID,
		ConversationID:  pair.ConversationID,
		Partner:         &partner,
		IsInitiator:     pair.InitiatorID == studentID,
	}
}

func validateJoin(req JoinRequest) error {
	if !types.IsValidSessionID(req.SessionID) {
		return ErrInvalidSessionID
	}
	if !types.IsValidTopicID(req.TopicID) {
		return ErrInvalidTopicID
	}
	if !types.IsValidUserID(req.StudentID) {
		return ErrInvalidStudentID
	}
	if !types.IsValidStudentName(req.StudentName) {
		return ErrInvalidStudentName
	}
	return nil
}
