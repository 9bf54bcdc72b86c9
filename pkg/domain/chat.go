package domain

import "time"

// Role identifies the author of a chat message
type Role string

// chat message roles, matching the wire roles of the completion API
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation
type Message struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Session is an active conversation bound to a use case
type Session struct {
	ID        string
	UseCase   string
	CreatedAt time.Time
}

// Usage holds token accounting for a single completion
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ResultSet is a tabular query result with stringified cells
type ResultSet struct {
	Columns []string
	Types   []string
	Rows    [][]string
}

// Empty reports whether the result set has no rows
func (rs *ResultSet) Empty() bool {
	return rs == nil || len(rs.Rows) == 0
}

// ChatEntry is the persistent log record of one question/answer exchange.
// Mirrors the CHAT_HISTORY warehouse table.
type ChatEntry struct {
	QuestionID       string
	DS               string
	Timestamp        time.Time
	SessionID        string
	UseCase          string
	Question         string
	FullAnswer       string
	SQLQuery         string
	QueryResult      string // result rows as JSON, empty when no query ran
	SQLError         string
	PromptTokens     int
	CompletionTokens int
	AnswerTime       float64 // seconds
	QueryTime        float64 // seconds
	FeedbackScore    *float64
	FeedbackText     string
}
