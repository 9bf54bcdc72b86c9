package domain

import "time"

// UseCase describes a business area the assistant can answer questions about
type UseCase struct {
	Name           string
	MainDatasource string
}

// TableContext is the schema context for a use case, serialized into the
// system prompt so the model only sees the allowed tables
type TableContext struct {
	Tables   []TableInfo    `json:"tables"`
	Examples []QueryExample `json:"examples"`
}

// TableInfo describes one table exposed to the model
type TableInfo struct {
	Name        string       `json:"name"`
	Schema      string       `json:"schema"`
	Database    string       `json:"database"`
	Description string       `json:"description"`
	Columns     []ColumnInfo `json:"columns"`
}

// ColumnInfo describes one column with its warehouse metadata and joins
type ColumnInfo struct {
	Name        string     `json:"column_name"`
	Type        string     `json:"column_type"`
	Description string     `json:"column_description"`
	Joins       []JoinInfo `json:"column_joins,omitempty"`
}

// JoinInfo points a column at its counterpart in another table
type JoinInfo struct {
	Reference   string `json:"reference"`
	Description string `json:"description"`
}

// QueryExample is a known-good question/SQL pair included in the prompt
type QueryExample struct {
	UserInput string `json:"user_input"`
	SQLQuery  string `json:"sql_query"`
}

// ColumnMeta is raw column metadata fetched from the warehouse
type ColumnMeta struct {
	Name    string
	Type    string
	Comment string
}

// DataRange is the date span covered by a use case's main datasource
type DataRange struct {
	Min time.Time
	Max time.Time
}
