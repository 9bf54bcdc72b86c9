package warehouse

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sf "github.com/snowflakedb/gosnowflake"

	"github.com/sqlscope/sqlscope/pkg/config"
	"github.com/sqlscope/sqlscope/pkg/domain"
)

// Client provides access to the Snowflake warehouse: read-only query
// execution for the chat flow, schema metadata for prompts and writeback of
// chat logs, feedback and bug reports
type Client struct {
	conn     *sqlx.DB
	logTable string
	bugTable string
}

// New opens a warehouse connection from configuration
func New(cfg config.SnowflakeConfig) (*Client, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, fmt.Errorf("build snowflake dsn: %w", err)
	}

	conn, err := sqlx.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snowflake connection: %w", err)
	}

	return &Client{conn: conn, logTable: cfg.LogTable, bugTable: cfg.BugTable}, nil
}

// buildDSN constructs a gosnowflake DSN from config, resolving the oauth
// token from file when configured
func buildDSN(cfg config.SnowflakeConfig) (string, error) {
	sfCfg := sf.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Role:      cfg.Role,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Warehouse: cfg.Warehouse,
	}

	switch cfg.Authenticator {
	case "oauth":
		sfCfg.Authenticator = sf.AuthTypeOAuth
		token := cfg.Token
		if cfg.TokenFile != "" {
			data, err := os.ReadFile(cfg.TokenFile) //nolint:gosec // path comes from config
			if err != nil {
				return "", fmt.Errorf("read token file: %w", err)
			}
			token = strings.TrimSpace(string(data))
		}
		if token == "" {
			return "", fmt.Errorf("oauth token is empty")
		}
		sfCfg.Token = token
	default:
		sfCfg.Password = cfg.Password
	}

	return sf.DSN(&sfCfg)
}

// Close closes the warehouse connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ping verifies the warehouse connection
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

// Query guards and executes a model-generated query, returning stringified
// rows. Rows where every cell is NULL are dropped. Execution errors come
// back trimmed for chat display.
func (c *Client) Query(ctx context.Context, query string) (*domain.ResultSet, error) {
	if err := Guard(query); err != nil {
		return nil, err
	}

	rows, err := c.conn.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s", userErrorMessage(err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	rs := &domain.ResultSet{Columns: cols, Rows: [][]string{}}

	if colTypes, typErr := rows.ColumnTypes(); typErr == nil {
		for _, ct := range colTypes {
			rs.Types = append(rs.Types, ct.DatabaseTypeName())
		}
	}

	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		allNull := true
		formatted := make([]string, len(vals))
		for i, v := range vals {
			if v == nil {
				continue
			}
			allNull = false
			formatted[i] = formatValue(v)
		}
		if allNull {
			continue
		}
		rs.Rows = append(rs.Rows, formatted)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s", userErrorMessage(err))
	}

	return rs, nil
}

// formatValue renders a driver value for the chat result table
func formatValue(v any) string {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format("2006-01-02")
		}
		return val.Format("2006-01-02 15:04:05")
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// TableColumns fetches name, type and comment for the columns of a table
// from INFORMATION_SCHEMA. When columns is non-empty only those are fetched,
// keeping the prompt token usage down.
func (c *Client) TableColumns(ctx context.Context, database, schema, table string, columns []string) ([]domain.ColumnMeta, error) {
	if !validIdent(database) {
		return nil, fmt.Errorf("invalid database identifier %q", database)
	}

	query := fmt.Sprintf(`
		SELECT COLUMN_NAME, DATA_TYPE, COALESCE(COMMENT, '') AS COMMENT
		FROM %s.INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`, database)
	args := []any{schema, table}

	if len(columns) > 0 {
		inQuery, inArgs, err := sqlx.In(" AND COLUMN_NAME IN (?)", columns)
		if err != nil {
			return nil, fmt.Errorf("build column filter: %w", err)
		}
		query += inQuery
		args = append(args, inArgs...)
	}
	query += " ORDER BY ORDINAL_POSITION"

	var result []struct {
		Name    string `db:"COLUMN_NAME"`
		Type    string `db:"DATA_TYPE"`
		Comment string `db:"COMMENT"`
	}
	if err := c.conn.SelectContext(ctx, &result, c.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("fetch column metadata: %w", err)
	}

	cols := make([]domain.ColumnMeta, 0, len(result))
	for _, r := range result {
		cols = append(cols, domain.ColumnMeta{Name: r.Name, Type: r.Type, Comment: r.Comment})
	}
	return cols, nil
}

// DataRange returns the min and max DS values of a datasource table
func (c *Client) DataRange(ctx context.Context, datasource string) (domain.DataRange, error) {
	if !validIdent(datasource) {
		return domain.DataRange{}, fmt.Errorf("invalid datasource identifier %q", datasource)
	}

	var row struct {
		Min *time.Time `db:"MIN_DS"`
		Max *time.Time `db:"MAX_DS"`
	}
	query := fmt.Sprintf("SELECT MIN(DS) AS MIN_DS, MAX(DS) AS MAX_DS FROM %s", datasource)
	if err := c.conn.GetContext(ctx, &row, query); err != nil {
		return domain.DataRange{}, fmt.Errorf("fetch data range: %w", err)
	}

	dr := domain.DataRange{}
	if row.Min != nil {
		dr.Min = *row.Min
	}
	if row.Max != nil {
		dr.Max = *row.Max
	}
	return dr, nil
}

// InsertChatEntry writes one chat log row to the warehouse log table
func (c *Client) InsertChatEntry(ctx context.Context, entry domain.ChatEntry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			QUESTION_ID, DS, TIMESTAMP, SESSION_ID, QUESTION, FULL_ANSWER,
			SQL_QUERY, QUERY_RESULT, SQL_ERROR, PROMPT_TOKENS, COMPLETION_TOKENS,
			AI_RESPONSE_TIME, QUERY_TIME, FEEDBACK_SCORE, FEEDBACK_TEXT, USE_CASE
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, c.logTable)

	_, err := c.conn.ExecContext(ctx, query,
		entry.QuestionID, entry.DS, entry.Timestamp, entry.SessionID,
		entry.Question, entry.FullAnswer, entry.SQLQuery, entry.QueryResult,
		entry.SQLError, entry.PromptTokens, entry.CompletionTokens,
		entry.AnswerTime, entry.QueryTime, entry.FeedbackScore,
		entry.FeedbackText, entry.UseCase)
	if err != nil {
		return fmt.Errorf("insert chat entry: %w", err)
	}
	return nil
}

// UpdateFeedback sets the feedback score and text on an already shipped
// chat log row
func (c *Client) UpdateFeedback(ctx context.Context, questionID string, score float64, text string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET FEEDBACK_SCORE = ?, FEEDBACK_TEXT = ?
		WHERE QUESTION_ID = ?`, c.logTable)

	if _, err := c.conn.ExecContext(ctx, query, score, text, questionID); err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}
	return nil
}

// InsertBugReport writes one bug report row to the warehouse bug table
func (c *Client) InsertBugReport(ctx context.Context, report domain.BugReport) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (REPORTER_EMAIL, DESCRIPTION, REPRODUCTION_STEPS, REPORTED_ON)
		VALUES (?, ?, ?, ?)`, c.bugTable)

	_, err := c.conn.ExecContext(ctx, query,
		report.ReporterEmail, report.Description, report.Steps, report.ReportedOn)
	if err != nil {
		return fmt.Errorf("insert bug report: %w", err)
	}
	return nil
}
