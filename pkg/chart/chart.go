// Package chart suggests a visualization for a query result: which column is
// the x axis, which numeric columns can be plotted and whether a line or bar
// chart fits better.
package chart

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/sqlscope/sqlscope/pkg/domain"
)

// chart types
const (
	TypeLine = "line"
	TypeBar  = "bar"
)

// Suggestion describes a chart that fits the result set
type Suggestion struct {
	Type    string   `json:"type"`
	X       string   `json:"x"`
	XLabel  string   `json:"x_label"`
	Y       string   `json:"y"`
	YLabel  string   `json:"y_label"`
	Numeric []string `json:"numeric_columns"`
	Title   string   `json:"title"`
}

// date layouts accepted when sniffing for a time series x axis
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006",
}

// Suggest picks axes and chart type for a result set. Returns nil when the
// result is empty or has no numeric column to plot.
func Suggest(rs *domain.ResultSet) *Suggestion {
	if rs.Empty() || len(rs.Columns) == 0 {
		return nil
	}

	numeric := make([]string, 0, len(rs.Columns))
	var xCandidates []string
	for i, col := range rs.Columns {
		switch {
		case isNumericColumn(rs, i):
			numeric = append(numeric, col)
		default:
			// categorical or time-based columns are x axis candidates
			xCandidates = append(xCandidates, col)
		}
	}

	if len(numeric) == 0 {
		return nil
	}

	// prefer a categorical/time column for x, fall back to the first column
	x := rs.Columns[0]
	if len(xCandidates) > 0 {
		x = xCandidates[0]
	}

	chartType := TypeBar
	if isTimeColumn(rs, columnIndex(rs, x)) {
		chartType = TypeLine
	}

	// first numeric column that is not already the x axis
	y := numeric[0]
	for _, col := range numeric {
		if col != x {
			y = col
			break
		}
	}

	return &Suggestion{
		Type:    chartType,
		X:       x,
		XLabel:  titleize(x),
		Y:       y,
		YLabel:  titleize(y),
		Numeric: numeric,
		Title:   titleize(y) + " by " + titleize(x),
	}
}

func columnIndex(rs *domain.ResultSet, name string) int {
	for i, col := range rs.Columns {
		if col == name {
			return i
		}
	}
	return 0
}

// isNumericColumn reports whether every non-empty cell of the column parses
// as a number
func isNumericColumn(rs *domain.ResultSet, idx int) bool {
	seen := false
	for _, row := range rs.Rows {
		if idx >= len(row) || row[idx] == "" {
			continue
		}
		if _, err := strconv.ParseFloat(strings.ReplaceAll(row[idx], ",", ""), 64); err != nil {
			return false
		}
		seen = true
	}
	return seen
}

// isTimeColumn reports whether every non-empty cell of the column parses as
// a date
func isTimeColumn(rs *domain.ResultSet, idx int) bool {
	seen := false
	for _, row := range rs.Rows {
		if idx >= len(row) || row[idx] == "" {
			continue
		}
		if !parsesAsDate(row[idx]) {
			return false
		}
		seen = true
	}
	return seen
}

func parsesAsDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// titleize turns a column name into a readable label: underscores become
// spaces, words are capitalized
func titleize(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == ' '
	})
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
