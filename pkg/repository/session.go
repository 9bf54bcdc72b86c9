package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sqlscope/sqlscope/pkg/domain"
)

// SessionRepository handles chat session and message storage
type SessionRepository struct {
	db *sqlx.DB
}

// sessionSQL represents a session row
type sessionSQL struct {
	ID        string    `db:"id"`
	UseCase   string    `db:"use_case"`
	CreatedAt time.Time `db:"created_at"`
}

// messageSQL represents a message row
type messageSQL struct {
	ID        int64     `db:"id"`
	SessionID string    `db:"session_id"`
	Role      string    `db:"role"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(database *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: database}
}

// CreateSession inserts a new session
func (r *SessionRepository) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `INSERT INTO sessions (id, use_case, created_at) VALUES (?, ?, ?)`
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	if _, err := r.db.ExecContext(ctx, query, session.ID, session.UseCase, session.CreatedAt); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID, nil when not found
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var row sessionSQL
	err := r.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &domain.Session{ID: row.ID, UseCase: row.UseCase, CreatedAt: row.CreatedAt}, nil
}

// AddMessage appends a message to the session's conversation
func (r *SessionRepository) AddMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	query := `INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, sessionID, string(msg.Role), msg.Content, msg.CreatedAt); err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	return nil
}

// GetMessages returns the conversation in insertion order, system prompt first
func (r *SessionRepository) GetMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var rows []messageSQL
	query := `SELECT * FROM messages WHERE session_id = ? ORDER BY id`
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	messages := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, domain.Message{
			Role:      domain.Role(row.Role),
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
		})
	}
	return messages, nil
}

// ClearMessages removes all turns except the system prompt, restarting the
// conversation for the same use case
func (r *SessionRepository) ClearMessages(ctx context.Context, sessionID string) error {
	query := `DELETE FROM messages WHERE session_id = ? AND role != ?`
	if _, err := r.db.ExecContext(ctx, query, sessionID, string(domain.RoleSystem)); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

// SwitchUseCase changes the session's use case and replaces the conversation
// with the new system prompt
func (r *SessionRepository) SwitchUseCase(ctx context.Context, sessionID, useCase, systemPrompt string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET use_case = ? WHERE id = ?`, useCase, sessionID); err != nil {
		return fmt.Errorf("update session use case: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	query := `INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, sessionID, string(domain.RoleSystem), systemPrompt, time.Now()); err != nil {
		return fmt.Errorf("insert system prompt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
