package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/sqlscope/sqlscope/pkg/domain"
)

// Scheduler runs the background workers: shipping queued chat logs, feedback
// updates and bug reports to the warehouse, and refreshing cached prompts
type Scheduler struct {
	chat      ChatStore
	bugs      BugStore
	warehouse Warehouse
	refresher Refresher

	shipInterval    time.Duration
	shipBatch       int
	refreshInterval time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// ChatStore provides the shipping queue for chat logs and feedback
type ChatStore interface {
	GetUnshipped(ctx context.Context, limit int) ([]domain.ChatEntry, error)
	MarkShipped(ctx context.Context, questionIDs []string) error
	GetPendingFeedback(ctx context.Context, limit int) ([]domain.ChatEntry, error)
	MarkFeedbackShipped(ctx context.Context, questionIDs []string) error
}

// BugStore provides the shipping queue for bug reports
type BugStore interface {
	GetUnshipped(ctx context.Context, limit int) ([]domain.BugReport, error)
	MarkShipped(ctx context.Context, ids []int64) error
}

// Warehouse receives shipped records
type Warehouse interface {
	InsertChatEntry(ctx context.Context, entry domain.ChatEntry) error
	UpdateFeedback(ctx context.Context, questionID string, score float64, text string) error
	InsertBugReport(ctx context.Context, report domain.BugReport) error
}

// Refresher rebuilds cached use case prompts
type Refresher interface {
	Refresh(ctx context.Context)
}

// Config holds scheduler configuration
type Config struct {
	ShipInterval    time.Duration
	ShipBatch       int
	RefreshInterval time.Duration
}

// NewScheduler creates a new scheduler instance
func NewScheduler(chat ChatStore, bugs BugStore, warehouse Warehouse, refresher Refresher, cfg Config) *Scheduler {
	if cfg.ShipInterval == 0 {
		cfg.ShipInterval = time.Minute
	}
	if cfg.ShipBatch == 0 {
		cfg.ShipBatch = 50
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 6 * time.Hour
	}

	return &Scheduler{
		chat:            chat,
		bugs:            bugs,
		warehouse:       warehouse,
		refresher:       refresher,
		shipInterval:    cfg.ShipInterval,
		shipBatch:       cfg.ShipBatch,
		refreshInterval: cfg.RefreshInterval,
	}
}

// Start begins the background workers
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.shipWorker(ctx)

	if s.refresher != nil {
		s.wg.Add(1)
		go s.refreshWorker(ctx)
	}

	lgr.Printf("[INFO] scheduler started with ship interval %v, refresh interval %v",
		s.shipInterval, s.refreshInterval)
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	lgr.Printf("[INFO] stopping scheduler...")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	lgr.Printf("[INFO] scheduler stopped")
}

// shipWorker periodically drains the shipping queues
func (s *Scheduler) shipWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.shipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ShipNow(ctx)
		}
	}
}

// ShipNow drains all pending records once. Failed records stay queued for
// the next run.
func (s *Scheduler) ShipNow(ctx context.Context) {
	s.shipChatEntries(ctx)
	s.shipFeedback(ctx)
	s.shipBugReports(ctx)
}

// shipChatEntries pushes queued chat log rows to the warehouse
func (s *Scheduler) shipChatEntries(ctx context.Context) {
	entries, err := s.chat.GetUnshipped(ctx, s.shipBatch)
	if err != nil {
		lgr.Printf("[ERROR] failed to get unshipped chat entries: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	lgr.Printf("[DEBUG] shipping %d chat entries", len(entries))

	var mu sync.Mutex
	var shipped []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, entry := range entries {
		g.Go(func() error {
			if err := s.warehouse.InsertChatEntry(gctx, entry); err != nil {
				lgr.Printf("[WARN] failed to ship chat entry %s: %v", entry.QuestionID, err)
				return nil // keep it queued, ship the rest
			}
			mu.Lock()
			shipped = append(shipped, entry.QuestionID)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return errors, failures stay queued

	if err := s.chat.MarkShipped(ctx, shipped); err != nil {
		lgr.Printf("[ERROR] failed to mark chat entries shipped: %v", err)
		return
	}
	if len(shipped) > 0 {
		lgr.Printf("[INFO] shipped %d chat entries", len(shipped))
	}
}

// shipFeedback pushes queued feedback updates to the warehouse
func (s *Scheduler) shipFeedback(ctx context.Context) {
	entries, err := s.chat.GetPendingFeedback(ctx, s.shipBatch)
	if err != nil {
		lgr.Printf("[ERROR] failed to get pending feedback: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	var shipped []string
	for _, entry := range entries {
		if entry.FeedbackScore == nil {
			// nothing to push, drop from the queue
			shipped = append(shipped, entry.QuestionID)
			continue
		}
		if err := s.warehouse.UpdateFeedback(ctx, entry.QuestionID, *entry.FeedbackScore, entry.FeedbackText); err != nil {
			lgr.Printf("[WARN] failed to ship feedback for %s: %v", entry.QuestionID, err)
			continue
		}
		shipped = append(shipped, entry.QuestionID)
	}

	if err := s.chat.MarkFeedbackShipped(ctx, shipped); err != nil {
		lgr.Printf("[ERROR] failed to mark feedback shipped: %v", err)
		return
	}
	if len(shipped) > 0 {
		lgr.Printf("[INFO] shipped %d feedback updates", len(shipped))
	}
}

// shipBugReports pushes queued bug reports to the warehouse
func (s *Scheduler) shipBugReports(ctx context.Context) {
	reports, err := s.bugs.GetUnshipped(ctx, s.shipBatch)
	if err != nil {
		lgr.Printf("[ERROR] failed to get unshipped bug reports: %v", err)
		return
	}
	if len(reports) == 0 {
		return
	}

	var shipped []int64
	for _, report := range reports {
		if err := s.warehouse.InsertBugReport(ctx, report); err != nil {
			lgr.Printf("[WARN] failed to ship bug report %d: %v", report.ID, err)
			continue
		}
		shipped = append(shipped, report.ID)
	}

	if err := s.bugs.MarkShipped(ctx, shipped); err != nil {
		lgr.Printf("[ERROR] failed to mark bug reports shipped: %v", err)
		return
	}
	if len(shipped) > 0 {
		lgr.Printf("[INFO] shipped %d bug reports", len(shipped))
	}
}

// refreshWorker periodically rebuilds cached use case prompts so the table
// context and data ranges stay current
func (s *Scheduler) refreshWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresher.Refresh(ctx)
		}
	}
}
