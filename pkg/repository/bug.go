package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/sqlscope/sqlscope/pkg/domain"
)

// BugRepository handles bug report storage and the warehouse shipping queue
type BugRepository struct {
	db *sqlx.DB
}

// bugReportSQL represents a bug report row
type bugReportSQL struct {
	ID            int64     `db:"id"`
	ReporterEmail string    `db:"reporter_email"`
	Description   string    `db:"description"`
	Steps         string    `db:"steps"`
	ReportedOn    time.Time `db:"reported_on"`
	Shipped       bool      `db:"shipped"`
}

// NewBugRepository creates a new bug report repository
func NewBugRepository(database *sqlx.DB) *BugRepository {
	return &BugRepository{db: database}
}

// Create inserts a bug report into the shipping queue
func (r *BugRepository) Create(ctx context.Context, report *domain.BugReport) error {
	if report.ReportedOn.IsZero() {
		report.ReportedOn = time.Now()
	}

	query := `
		INSERT INTO bug_reports (reporter_email, description, steps, reported_on)
		VALUES (?, ?, ?, ?)`

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	return retrier.Do(ctx, func() error {
		result, err := r.db.ExecContext(ctx, query,
			report.ReporterEmail, report.Description, report.Steps, report.ReportedOn)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return fmt.Errorf("create bug report: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("get insert id: %w", err)
		}
		report.ID = id
		return nil
	})
}

// GetUnshipped returns bug reports not yet written to the warehouse
func (r *BugRepository) GetUnshipped(ctx context.Context, limit int) ([]domain.BugReport, error) {
	var rows []bugReportSQL
	query := `SELECT * FROM bug_reports WHERE shipped = 0 ORDER BY reported_on LIMIT ?`
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("get unshipped bug reports: %w", err)
	}

	reports := make([]domain.BugReport, 0, len(rows))
	for _, row := range rows {
		reports = append(reports, domain.BugReport{
			ID:            row.ID,
			ReporterEmail: row.ReporterEmail,
			Description:   row.Description,
			Steps:         row.Steps,
			ReportedOn:    row.ReportedOn,
		})
	}
	return reports, nil
}

// MarkShipped marks bug reports as written to the warehouse
func (r *BugRepository) MarkShipped(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`UPDATE bug_reports SET shipped = 1 WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	query = r.db.Rebind(query)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark bug reports shipped: %w", err)
	}
	return nil
}
