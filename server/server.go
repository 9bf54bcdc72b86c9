package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"
	"github.com/microcosm-cc/bluemonday"

	"github.com/sqlscope/sqlscope/pkg/domain"
	"github.com/sqlscope/sqlscope/pkg/llm"
)

// Server represents HTTP server instance
type Server struct {
	config    ConfigProvider
	sessions  SessionStore
	chat      ChatStore
	bugs      BugStore
	engine    QueryEngine
	generator Generator
	prompts   Prompts
	version   string
	debug     bool

	sanitizer *bluemonday.Policy

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// SessionStore provides session and conversation storage
type SessionStore interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	AddMessage(ctx context.Context, sessionID string, msg domain.Message) error
	GetMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
	ClearMessages(ctx context.Context, sessionID string) error
	SwitchUseCase(ctx context.Context, sessionID, useCase, systemPrompt string) error
}

// ChatStore provides chat log storage
type ChatStore interface {
	CreateEntry(ctx context.Context, entry *domain.ChatEntry) error
	GetEntry(ctx context.Context, questionID string) (*domain.ChatEntry, error)
	SetFeedback(ctx context.Context, questionID string, score float64, text string) error
	GetHistory(ctx context.Context, sessionID string) ([]domain.ChatEntry, error)
}

// BugStore provides bug report storage
type BugStore interface {
	Create(ctx context.Context, report *domain.BugReport) error
}

// QueryEngine executes guarded warehouse queries
type QueryEngine interface {
	Query(ctx context.Context, query string) (*domain.ResultSet, error)
}

// Generator produces assistant answers from conversation history
type Generator interface {
	Generate(ctx context.Context, history []domain.Message) (*llm.Response, error)
}

// Prompts provides per-use-case system prompts
type Prompts interface {
	SystemPrompt(ctx context.Context, useCase string) (string, error)
	Known(useCase string) bool
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
	UseCaseNames() []string
	BugEmailDomain() string
}

// New initializes a new server instance
func New(cfg ConfigProvider, sessions SessionStore, chat ChatStore, bugs BugStore,
	engine QueryEngine, generator Generator, prompts Prompts, version string, debug bool) *Server {

	s := &Server{
		config:    cfg,
		sessions:  sessions,
		chat:      chat,
		bugs:      bugs,
		engine:    engine,
		generator: generator,
		prompts:   prompts,
		version:   version,
		debug:     debug,
		sanitizer: bluemonday.StrictPolicy(),
		router:    routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	log.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("sqlscope", "sqlscope", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /status", s.statusHandler)
		r.HandleFunc("GET /use-cases", s.useCasesHandler)

		r.HandleFunc("POST /sessions", s.createSessionHandler)
		r.HandleFunc("GET /sessions/{id}/history", s.historyHandler)
		r.HandleFunc("POST /sessions/{id}/ask", s.askHandler)
		r.HandleFunc("PUT /sessions/{id}/use-case", s.switchUseCaseHandler)
		r.HandleFunc("DELETE /sessions/{id}/messages", s.clearSessionHandler)

		r.HandleFunc("POST /feedback/{question_id}", s.feedbackHandler)
		r.HandleFunc("POST /bugs", s.bugReportHandler)
	})
}

// statusHandler returns server status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
	}
	renderJSON(w, r, http.StatusOK, status)
}

// renderJSON sends JSON response
func renderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// renderError sends error response as JSON
func renderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	renderJSON(w, r, code, map[string]string{"error": errMsg})
}
