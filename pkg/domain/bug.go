package domain

import "time"

// BugReport is a user-submitted report of an app problem
type BugReport struct {
	ID            int64
	ReporterEmail string
	Description   string
	Steps         string
	ReportedOn    time.Time
}
