package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sqlscope/sqlscope/pkg/chart"
	"github.com/sqlscope/sqlscope/pkg/domain"
)

const questionIDLength = 16

// feedback scores matching the five faces of the feedback widget
var allowedScores = []float64{0, 0.25, 0.5, 0.75, 1}

// emailLocalRegex validates the part before the @ in bug report emails
var emailLocalRegex = regexp.MustCompile(`^[\w.+-]+$`)

// useCasesHandler lists configured use cases
func (s *Server) useCasesHandler(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, r, http.StatusOK, map[string]interface{}{"use_cases": s.config.UseCaseNames()})
}

// createSessionHandler starts a new conversation for a use case. The system
// prompt is built here so the first question doesn't pay the metadata cost.
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		UseCase string `json:"use_case"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}
	if req.UseCase == "" {
		renderError(w, r, fmt.Errorf("use_case is required"), http.StatusBadRequest)
		return
	}
	if !s.prompts.Known(req.UseCase) {
		renderError(w, r, fmt.Errorf("unknown use case %q", req.UseCase), http.StatusBadRequest)
		return
	}

	systemPrompt, err := s.prompts.SystemPrompt(ctx, req.UseCase)
	if err != nil {
		log.Printf("[ERROR] failed to build system prompt: %v", err)
		renderError(w, r, fmt.Errorf("failed to prepare use case"), http.StatusInternalServerError)
		return
	}

	session := &domain.Session{ID: domain.NewID(questionIDLength), UseCase: req.UseCase, CreatedAt: time.Now()}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		log.Printf("[ERROR] failed to create session: %v", err)
		renderError(w, r, fmt.Errorf("failed to create session"), http.StatusInternalServerError)
		return
	}
	if err := s.sessions.AddMessage(ctx, session.ID, domain.Message{Role: domain.RoleSystem, Content: systemPrompt}); err != nil {
		log.Printf("[ERROR] failed to store system prompt: %v", err)
		renderError(w, r, fmt.Errorf("failed to create session"), http.StatusInternalServerError)
		return
	}

	renderJSON(w, r, http.StatusCreated, map[string]string{
		"session_id": session.ID,
		"use_case":   session.UseCase,
	})
}

// askResponse is the payload for an answered question
type askResponse struct {
	QuestionID string            `json:"question_id"`
	Answer     string            `json:"answer"`
	SQL        string            `json:"sql,omitempty"`
	Columns    []string          `json:"columns,omitempty"`
	Rows       [][]string        `json:"rows,omitempty"`
	SQLError   string            `json:"sql_error,omitempty"`
	Chart      *chart.Suggestion `json:"chart,omitempty"`
	Usage      struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Timings struct {
		AnswerSeconds float64 `json:"answer_seconds"`
		QuerySeconds  float64 `json:"query_seconds"`
	} `json:"timings"`
}

// askHandler runs one question through the model, executes the generated SQL
// and logs the exchange
func (s *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("id")

	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		renderError(w, r, fmt.Errorf("question is required"), http.StatusBadRequest)
		return
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("[ERROR] failed to get session: %v", err)
		renderError(w, r, fmt.Errorf("failed to load session"), http.StatusInternalServerError)
		return
	}
	if session == nil {
		renderError(w, r, fmt.Errorf("session not found"), http.StatusNotFound)
		return
	}

	history, err := s.sessions.GetMessages(ctx, sessionID)
	if err != nil {
		log.Printf("[ERROR] failed to get messages: %v", err)
		renderError(w, r, fmt.Errorf("failed to load conversation"), http.StatusInternalServerError)
		return
	}

	userMsg := domain.Message{Role: domain.RoleUser, Content: req.Question}
	history = append(history, userMsg)

	genResp, err := s.generator.Generate(ctx, history)
	if err != nil {
		log.Printf("[ERROR] generation failed for session %s: %v", sessionID, err)
		renderError(w, r, fmt.Errorf("failed to generate answer"), http.StatusBadGateway)
		return
	}

	resp := askResponse{
		QuestionID: domain.NewID(questionIDLength),
		Answer:     genResp.Text,
		SQL:        genResp.SQL,
	}
	resp.Usage.PromptTokens = genResp.Usage.PromptTokens
	resp.Usage.CompletionTokens = genResp.Usage.CompletionTokens
	resp.Timings.AnswerSeconds = roundSeconds(genResp.Elapsed)

	// execute the extracted query, a failed query is part of the answer,
	// not a request failure
	var result *domain.ResultSet
	var queryElapsed time.Duration
	if genResp.SQL != "" {
		queryStart := time.Now()
		result, err = s.engine.Query(ctx, genResp.SQL)
		queryElapsed = time.Since(queryStart)
		resp.Timings.QuerySeconds = roundSeconds(queryElapsed)

		if err != nil {
			resp.SQLError = err.Error()
		} else {
			resp.Columns = result.Columns
			resp.Rows = result.Rows
			resp.Chart = chart.Suggest(result)
		}
	}

	// persist the turn, failures here must not lose the answer
	if err := s.sessions.AddMessage(ctx, sessionID, userMsg); err != nil {
		log.Printf("[WARN] failed to store user message: %v", err)
	}
	if err := s.sessions.AddMessage(ctx, sessionID, domain.Message{Role: domain.RoleAssistant, Content: genResp.Text}); err != nil {
		log.Printf("[WARN] failed to store assistant message: %v", err)
	}

	entry := buildChatEntry(resp, session, req.Question, genResp.Usage, result)
	if err := s.chat.CreateEntry(ctx, entry); err != nil {
		log.Printf("[WARN] failed to store chat entry %s: %v", resp.QuestionID, err)
	}

	renderJSON(w, r, http.StatusOK, resp)
}

// buildChatEntry assembles the persistent log record for one exchange
func buildChatEntry(resp askResponse, session *domain.Session, question string, usage domain.Usage, result *domain.ResultSet) *domain.ChatEntry {
	now := time.Now()
	entry := &domain.ChatEntry{
		QuestionID:       resp.QuestionID,
		DS:               now.Format("2006-01-02"),
		Timestamp:        now,
		SessionID:        session.ID,
		UseCase:          session.UseCase,
		Question:         question,
		FullAnswer:       resp.Answer,
		SQLQuery:         resp.SQL,
		SQLError:         resp.SQLError,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		AnswerTime:       resp.Timings.AnswerSeconds,
		QueryTime:        resp.Timings.QuerySeconds,
	}

	if !result.Empty() {
		entry.QueryResult = resultJSON(result)
	}
	return entry
}

// resultJSON renders a result set as a JSON array of records, the format
// the warehouse log table stores
func resultJSON(rs *domain.ResultSet) string {
	records := make([]map[string]string, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		rec := make(map[string]string, len(rs.Columns))
		for i, col := range rs.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		records = append(records, rec)
	}

	data, err := json.Marshal(records)
	if err != nil {
		log.Printf("[WARN] failed to marshal query result: %v", err)
		return ""
	}
	return string(data)
}

// historyHandler returns the chat log of a session
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("id")

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("[ERROR] failed to get session: %v", err)
		renderError(w, r, fmt.Errorf("failed to load session"), http.StatusInternalServerError)
		return
	}
	if session == nil {
		renderError(w, r, fmt.Errorf("session not found"), http.StatusNotFound)
		return
	}

	entries, err := s.chat.GetHistory(ctx, sessionID)
	if err != nil {
		log.Printf("[ERROR] failed to get history: %v", err)
		renderError(w, r, fmt.Errorf("failed to load history"), http.StatusInternalServerError)
		return
	}

	type historyItem struct {
		QuestionID    string   `json:"question_id"`
		Timestamp     string   `json:"timestamp"`
		Question      string   `json:"question"`
		Answer        string   `json:"answer"`
		SQL           string   `json:"sql,omitempty"`
		SQLError      string   `json:"sql_error,omitempty"`
		FeedbackScore *float64 `json:"feedback_score,omitempty"`
		FeedbackText  string   `json:"feedback_text,omitempty"`
	}

	items := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyItem{
			QuestionID:    e.QuestionID,
			Timestamp:     e.Timestamp.Format(time.RFC3339),
			Question:      e.Question,
			Answer:        e.FullAnswer,
			SQL:           e.SQLQuery,
			SQLError:      e.SQLError,
			FeedbackScore: e.FeedbackScore,
			FeedbackText:  e.FeedbackText,
		})
	}

	renderJSON(w, r, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"use_case":   session.UseCase,
		"history":    items,
	})
}

// switchUseCaseHandler changes the session's use case and restarts the
// conversation with the new system prompt
func (s *Server) switchUseCaseHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("id")

	var req struct {
		UseCase string `json:"use_case"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}
	if !s.prompts.Known(req.UseCase) {
		renderError(w, r, fmt.Errorf("unknown use case %q", req.UseCase), http.StatusBadRequest)
		return
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("[ERROR] failed to get session: %v", err)
		renderError(w, r, fmt.Errorf("failed to load session"), http.StatusInternalServerError)
		return
	}
	if session == nil {
		renderError(w, r, fmt.Errorf("session not found"), http.StatusNotFound)
		return
	}

	systemPrompt, err := s.prompts.SystemPrompt(ctx, req.UseCase)
	if err != nil {
		log.Printf("[ERROR] failed to build system prompt: %v", err)
		renderError(w, r, fmt.Errorf("failed to prepare use case"), http.StatusInternalServerError)
		return
	}

	if err := s.sessions.SwitchUseCase(ctx, sessionID, req.UseCase, systemPrompt); err != nil {
		log.Printf("[ERROR] failed to switch use case: %v", err)
		renderError(w, r, fmt.Errorf("failed to switch use case"), http.StatusInternalServerError)
		return
	}

	renderJSON(w, r, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"use_case":   req.UseCase,
	})
}

// clearSessionHandler restarts the conversation, keeping the session and its
// system prompt
func (s *Server) clearSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("id")

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("[ERROR] failed to get session: %v", err)
		renderError(w, r, fmt.Errorf("failed to load session"), http.StatusInternalServerError)
		return
	}
	if session == nil {
		renderError(w, r, fmt.Errorf("session not found"), http.StatusNotFound)
		return
	}

	if err := s.sessions.ClearMessages(ctx, sessionID); err != nil {
		log.Printf("[ERROR] failed to clear messages: %v", err)
		renderError(w, r, fmt.Errorf("failed to clear chat"), http.StatusInternalServerError)
		return
	}

	renderJSON(w, r, http.StatusOK, map[string]string{"session_id": sessionID, "status": "cleared"})
}

// feedbackHandler records user feedback on an answered question
func (s *Server) feedbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	questionID := r.PathValue("question_id")

	var req struct {
		Score   *float64 `json:"score"`
		Comment string   `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}
	if req.Score == nil {
		renderError(w, r, fmt.Errorf("score is required"), http.StatusBadRequest)
		return
	}
	if !validScore(*req.Score) {
		renderError(w, r, fmt.Errorf("score must be one of 0, 0.25, 0.5, 0.75, 1"), http.StatusBadRequest)
		return
	}

	entry, err := s.chat.GetEntry(ctx, questionID)
	if err != nil {
		log.Printf("[ERROR] failed to get chat entry: %v", err)
		renderError(w, r, fmt.Errorf("failed to load question"), http.StatusInternalServerError)
		return
	}
	if entry == nil {
		renderError(w, r, fmt.Errorf("question not found"), http.StatusNotFound)
		return
	}

	comment := s.sanitizer.Sanitize(req.Comment)
	if err := s.chat.SetFeedback(ctx, questionID, *req.Score, comment); err != nil {
		log.Printf("[ERROR] failed to set feedback: %v", err)
		renderError(w, r, fmt.Errorf("failed to save feedback"), http.StatusInternalServerError)
		return
	}

	renderJSON(w, r, http.StatusOK, map[string]string{"status": "thank you for your feedback"})
}

// bugReportHandler accepts a bug report form submission
func (s *Server) bugReportHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Email       string `json:"email"`
		Description string `json:"description"`
		Steps       string `json:"steps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}
	if req.Email == "" || strings.TrimSpace(req.Description) == "" {
		renderError(w, r, fmt.Errorf("email and description are required"), http.StatusBadRequest)
		return
	}
	if !s.validReporterEmail(req.Email) {
		renderError(w, r, fmt.Errorf("please enter a valid email address"), http.StatusBadRequest)
		return
	}

	report := &domain.BugReport{
		ReporterEmail: req.Email,
		Description:   s.sanitizer.Sanitize(req.Description),
		Steps:         s.sanitizer.Sanitize(req.Steps),
		ReportedOn:    time.Now(),
	}
	if err := s.bugs.Create(ctx, report); err != nil {
		log.Printf("[ERROR] failed to create bug report: %v", err)
		renderError(w, r, fmt.Errorf("failed to save bug report"), http.StatusInternalServerError)
		return
	}

	renderJSON(w, r, http.StatusCreated, map[string]interface{}{
		"id":     report.ID,
		"status": "thank you for reporting the bug",
	})
}

// validReporterEmail checks the bug reporter email, restricted to the
// configured company domain when set
func (s *Server) validReporterEmail(email string) bool {
	local, domainPart, found := strings.Cut(email, "@")
	if !found || local == "" || domainPart == "" {
		return false
	}
	if !emailLocalRegex.MatchString(local) {
		return false
	}
	if required := s.config.BugEmailDomain(); required != "" {
		return strings.EqualFold(domainPart, required)
	}
	return strings.Contains(domainPart, ".")
}

// validScore checks the feedback score against the face widget values
func validScore(score float64) bool {
	for _, allowed := range allowedScores {
		if score == allowed {
			return true
		}
	}
	return false
}

// roundSeconds converts a duration to seconds with two decimal places
func roundSeconds(d time.Duration) float64 {
	return float64(d.Round(10*time.Millisecond)) / float64(time.Second)
}
