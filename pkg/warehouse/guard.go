package warehouse

import (
	"regexp"
	"strings"
)

// safety checks applied to model-generated SQL before execution

// dmlRegex matches statements that change data or schema
var dmlRegex = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE)\b`)

// identRegex validates dotted identifiers used in configured table references
var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)*$`)

// ErrForbiddenSQL is returned by Guard for queries with DML statements.
// The message is user-facing, matching the chat tone.
type ErrForbiddenSQL struct{}

func (e *ErrForbiddenSQL) Error() string {
	return "Nice try, but dangerous changes to our data is not allowed here! Try asking question about our data instead."
}

// Guard rejects queries containing DML or DDL statements
func Guard(query string) error {
	if dmlRegex.MatchString(query) {
		return &ErrForbiddenSQL{}
	}
	return nil
}

// validIdent reports whether s is a safe dotted identifier (database,
// database.schema.table and the like)
func validIdent(s string) bool {
	return identRegex.MatchString(s)
}

// userErrorMessage trims Snowflake noise from an execution error so it can be
// shown in chat. Compilation errors keep only the part after the marker.
func userErrorMessage(err error) string {
	msg := err.Error()
	if _, after, found := strings.Cut(msg, "SQL compilation error:"); found {
		return strings.TrimSpace(after)
	}
	return msg
}
