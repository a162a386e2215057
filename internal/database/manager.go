// Package database is the sqlite-backed session, topic and pair store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"
	dbconfig "livesession/pkg/database"
	"livesession/pkg/interfaces"
	"livesession/pkg/types"
)

// ErrManagerClosed is returned for writes after Close
var ErrManagerClosed = errors.New("database manager is closed")

// Manager implements the session, topic and pair stores
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and migrations, and starts the writer
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db, config.MigrationsPath).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	slog.Info("Database ready", "path", config.DatabasePath)
	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)
		case <-m.shutdown:
			slog.Debug("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
// FUNCTIONAL DISCOVERY: Lifecycle and matchmaking hold their own locks across
// a write, so a failed write is returned at once instead of retried
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateSession inserts a new session row
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sessions (id, teacher_id, name, status, grace_period_ends_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			session.ID,
			session.TeacherID,
			session.Name,
			session.Status,
			nullTime(session.GracePeriodEndsAt),
			session.CreatedAt,
			session.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

const sessionColumns = `id, teacher_id, name, status, grace_period_ends_at, created_at, updated_at`

// GetSession retrieves a session by ID
// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// UpdateSessionStatus persists a lifecycle transition
func (m *Manager) UpdateSessionStatus(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE sessions
			SET status = ?, grace_period_ends_at = ?, updated_at = ?
			WHERE id = ?
		`,
			session.Status,
			nullTime(session.GracePeriodEndsAt),
			session.UpdatedAt,
			session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// DeleteSession removes a session; topics and pairs cascade
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// ListLiveSessions returns sessions that still need in-memory state after a restart
func (m *Manager) ListLiveSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status != 'ended' OR grace_period_ends_at IS NOT NULL
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query live sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	now := time.Now()
	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		// Ended sessions past their grace period are fully locked and need no countdown
		if session.Status == types.StatusEnded && session.GracePeriodEndsAt != nil && !session.GracePeriodEndsAt.After(now) {
			continue
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// GetTopic returns a topic definition
func (m *Manager) GetTopic(ctx context.Context, sessionID, topicID string) (*types.Topic, error) {
	var topic types.Topic
	err := m.db.QueryRowContext(ctx, `
		SELECT session_id, id, title, collaboration_enabled
		FROM topics
		WHERE session_id = ? AND id = ?
	`, sessionID, topicID).Scan(&topic.SessionID, &topic.ID, &topic.Title, &topic.CollaborationEnabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrTopicNotFound
		}
		return nil, fmt.Errorf("failed to query topic: %w", err)
	}
	return &topic, nil
}

// UpsertTopic creates or replaces a topic definition
func (m *Manager) UpsertTopic(ctx context.Context, topic *types.Topic) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO topics (session_id, id, title, collaboration_enabled)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (session_id, id) DO UPDATE SET
				title = excluded.title,
				collaboration_enabled = excluded.collaboration_enabled
		`, topic.SessionID, topic.ID, topic.Title, topic.CollaborationEnabled)
		if err != nil {
			return fmt.Errorf("failed to upsert topic: %w", err)
		}
		return nil
	})
}

// ListTopics returns the topics of a session ordered by id
func (m *Manager) ListTopics(ctx context.Context, sessionID string) ([]*types.Topic, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT session_id, id, title, collaboration_enabled
		FROM topics
		WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query topics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	topics := []*types.Topic{}
	for rows.Next() {
		var topic types.Topic
		if err := rows.Scan(&topic.SessionID, &topic.ID, &topic.Title, &topic.CollaborationEnabled); err != nil {
			return nil, fmt.Errorf("failed to scan topic row: %w", err)
		}
		topics = append(topics, &topic)
	}
	return topics, rows.Err()
}

// StorePair records collaboration metadata; conversation content lives elsewhere
func (m *Manager) StorePair(ctx context.Context, pair *types.CollaborationPair) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO collab_pairs (collab_session_id, conversation_id, session_id, topic_id,
				initiator_id, initiator_name, partner_id, partner_name, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			pair.CollabSessionID,
			pair.ConversationID,
			pair.SessionID,
			pair.TopicID,
			pair.Participants[0].ID,
			pair.Participants[0].Name,
			pair.Participants[1].ID,
			pair.Participants[1].Name,
			pair.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert collaboration pair: %w", err)
		}
		return nil
	})
}

// ListPairs returns the recorded pairs of a topic, oldest first
func (m *Manager) ListPairs(ctx context.Context, sessionID, topicID string) ([]*types.CollaborationPair, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT collab_session_id, conversation_id, session_id, topic_id,
			initiator_id, initiator_name, partner_id, partner_name, created_at
		FROM collab_pairs
		WHERE session_id = ? AND topic_id = ?
		ORDER BY created_at
	`, sessionID, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to query collaboration pairs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pairs []*types.CollaborationPair
	for rows.Next() {
		var pair types.CollaborationPair
		err := rows.Scan(
			&pair.CollabSessionID,
			&pair.ConversationID,
			&pair.SessionID,
			&pair.TopicID,
			&pair.Participants[0].ID,
			&pair.Participants[0].Name,
			&pair.Participants[1].ID,
			&pair.Participants[1].Name,
			&pair.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collaboration pair: %w", err)
		}
		pair.InitiatorID = pair.Participants[0].ID
		pairs = append(pairs, &pair)
	}
	return pairs, rows.Err()
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	var graceEndsAt sql.NullTime
	err := row.Scan(
		&session.ID,
		&session.TeacherID,
		&session.Name,
		&session.Status,
		&graceEndsAt,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	// FUNCTIONAL DISCOVERY: Handle nullable grace deadline for active sessions
	if graceEndsAt.Valid {
		t := graceEndsAt.Time.UTC()
		session.GracePeriodEndsAt = &t
	}
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()
	return &session, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
