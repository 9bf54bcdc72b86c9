package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/sqlscope/sqlscope/pkg/domain"
)

// ChatRepository handles chat log storage and the warehouse shipping queue
type ChatRepository struct {
	db *sqlx.DB
}

// chatEntrySQL represents a chat log row
type chatEntrySQL struct {
	QuestionID       string    `db:"question_id"`
	DS               string    `db:"ds"`
	Timestamp        time.Time `db:"timestamp"`
	SessionID        string    `db:"session_id"`
	UseCase          string    `db:"use_case"`
	Question         string    `db:"question"`
	FullAnswer       string    `db:"full_answer"`
	SQLQuery         string    `db:"sql_query"`
	QueryResult      string    `db:"query_result"`
	SQLError         string    `db:"sql_error"`
	PromptTokens     int       `db:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens"`
	AnswerTime       float64   `db:"answer_time"`
	QueryTime        float64   `db:"query_time"`
	FeedbackScore    *float64  `db:"feedback_score"`
	FeedbackText     string    `db:"feedback_text"`
	Shipped          bool      `db:"shipped"`
	FeedbackShipped  bool      `db:"feedback_shipped"`
}

// NewChatRepository creates a new chat repository
func NewChatRepository(database *sqlx.DB) *ChatRepository {
	return &ChatRepository{db: database}
}

// CreateEntry inserts a chat log entry into the shipping queue
func (r *ChatRepository) CreateEntry(ctx context.Context, entry *domain.ChatEntry) error {
	row := &chatEntrySQL{
		QuestionID:       entry.QuestionID,
		DS:               entry.DS,
		Timestamp:        entry.Timestamp,
		SessionID:        entry.SessionID,
		UseCase:          entry.UseCase,
		Question:         entry.Question,
		FullAnswer:       entry.FullAnswer,
		SQLQuery:         entry.SQLQuery,
		QueryResult:      entry.QueryResult,
		SQLError:         entry.SQLError,
		PromptTokens:     entry.PromptTokens,
		CompletionTokens: entry.CompletionTokens,
		AnswerTime:       entry.AnswerTime,
		QueryTime:        entry.QueryTime,
		FeedbackScore:    entry.FeedbackScore,
		FeedbackText:     entry.FeedbackText,
	}

	query := `
		INSERT INTO chat_log (
			question_id, ds, timestamp, session_id, use_case, question,
			full_answer, sql_query, query_result, sql_error, prompt_tokens,
			completion_tokens, answer_time, query_time, feedback_score, feedback_text
		) VALUES (
			:question_id, :ds, :timestamp, :session_id, :use_case, :question,
			:full_answer, :sql_query, :query_result, :sql_error, :prompt_tokens,
			:completion_tokens, :answer_time, :query_time, :feedback_score, :feedback_text
		)`

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	return retrier.Do(ctx, func() error {
		_, err := r.db.NamedExecContext(ctx, query, row)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return fmt.Errorf("create chat entry: %w", err)
		}
		return nil
	})
}

// GetEntry retrieves a chat log entry by question ID, nil when not found
func (r *ChatRepository) GetEntry(ctx context.Context, questionID string) (*domain.ChatEntry, error) {
	var row chatEntrySQL
	err := r.db.GetContext(ctx, &row, `SELECT * FROM chat_log WHERE question_id = ?`, questionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chat entry: %w", err)
	}
	entry := row.toDomain()
	return &entry, nil
}

// SetFeedback records user feedback on an answered question and queues the
// warehouse update
func (r *ChatRepository) SetFeedback(ctx context.Context, questionID string, score float64, text string) error {
	query := `
		UPDATE chat_log
		SET feedback_score = ?, feedback_text = ?, feedback_shipped = 0
		WHERE question_id = ?`

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	return retrier.Do(ctx, func() error {
		result, err := r.db.ExecContext(ctx, query, score, text, questionID)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return fmt.Errorf("set feedback: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("question %s not found", questionID)
		}
		return nil
	})
}

// GetHistory returns chat log entries of a session, oldest first
func (r *ChatRepository) GetHistory(ctx context.Context, sessionID string) ([]domain.ChatEntry, error) {
	var rows []chatEntrySQL
	query := `SELECT * FROM chat_log WHERE session_id = ? ORDER BY timestamp, question_id`
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	entries := make([]domain.ChatEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toDomain())
	}
	return entries, nil
}

// GetUnshipped returns chat log entries not yet written to the warehouse
func (r *ChatRepository) GetUnshipped(ctx context.Context, limit int) ([]domain.ChatEntry, error) {
	var rows []chatEntrySQL
	query := `SELECT * FROM chat_log WHERE shipped = 0 ORDER BY timestamp LIMIT ?`
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("get unshipped entries: %w", err)
	}

	entries := make([]domain.ChatEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toDomain())
	}
	return entries, nil
}

// MarkShipped marks chat log entries as written to the warehouse
func (r *ChatRepository) MarkShipped(ctx context.Context, questionIDs []string) error {
	if len(questionIDs) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`UPDATE chat_log SET shipped = 1 WHERE question_id IN (?)`, questionIDs)
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	query = r.db.Rebind(query)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark shipped: %w", err)
	}
	return nil
}

// GetPendingFeedback returns entries whose feedback still has to be pushed to
// the warehouse. Only entries already shipped qualify; unshipped entries
// carry their feedback inline.
func (r *ChatRepository) GetPendingFeedback(ctx context.Context, limit int) ([]domain.ChatEntry, error) {
	var rows []chatEntrySQL
	query := `
		SELECT * FROM chat_log
		WHERE feedback_shipped = 0 AND shipped = 1
		ORDER BY timestamp LIMIT ?`
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("get pending feedback: %w", err)
	}

	entries := make([]domain.ChatEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toDomain())
	}
	return entries, nil
}

// MarkFeedbackShipped marks feedback updates as pushed to the warehouse
func (r *ChatRepository) MarkFeedbackShipped(ctx context.Context, questionIDs []string) error {
	if len(questionIDs) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`UPDATE chat_log SET feedback_shipped = 1 WHERE question_id IN (?)`, questionIDs)
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	query = r.db.Rebind(query)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark feedback shipped: %w", err)
	}
	return nil
}

func (row *chatEntrySQL) toDomain() domain.ChatEntry {
	return domain.ChatEntry{
		QuestionID:       row.QuestionID,
		DS:               row.DS,
		Timestamp:        row.Timestamp,
		SessionID:        row.SessionID,
		UseCase:          row.UseCase,
		Question:         row.Question,
		FullAnswer:       row.FullAnswer,
		SQLQuery:         row.SQLQuery,
		QueryResult:      row.QueryResult,
		SQLError:         row.SQLError,
		PromptTokens:     row.PromptTokens,
		CompletionTokens: row.CompletionTokens,
		AnswerTime:       row.AnswerTime,
		QueryTime:        row.QueryTime,
		FeedbackScore:    row.FeedbackScore,
		FeedbackText:     row.FeedbackText,
	}
}
