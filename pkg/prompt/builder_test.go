package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlscope/sqlscope/pkg/config"
	"github.com/sqlscope/sqlscope/pkg/domain"
)

// fakeMetadata serves canned column metadata and data ranges
type fakeMetadata struct {
	columns    map[string][]domain.ColumnMeta // keyed by database.schema.table
	dataRange  domain.DataRange
	rangeErr   error
	columnsErr error
	calls      int
}

func (f *fakeMetadata) TableColumns(_ context.Context, database, schema, table string, _ []string) ([]domain.ColumnMeta, error) {
	f.calls++
	if f.columnsErr != nil {
		return nil, f.columnsErr
	}
	return f.columns[fmt.Sprintf("%s.%s.%s", database, schema, table)], nil
}

func (f *fakeMetadata) DataRange(_ context.Context, _ string) (domain.DataRange, error) {
	if f.rangeErr != nil {
		return domain.DataRange{}, f.rangeErr
	}
	return f.dataRange, nil
}

func testUseCase() config.UseCaseConfig {
	return config.UseCaseConfig{
		Name:           "Sales",
		MainDatasource: "ANALYTICS.PUBLIC.ORDERS",
		Tables: []config.TableConfig{
			{Database: "ANALYTICS", Schema: "PUBLIC", Table: "ORDERS", Description: "Customer orders"},
		},
		Examples: []config.ExampleConfig{
			{UserInput: "revenue last week", SQLQuery: "SELECT SUM(REVENUE) FROM ANALYTICS.PUBLIC.ORDERS"},
		},
		Relationships: map[string]config.JoinList{
			"ORDERS": {
				"CUSTOMER_ID": []config.JoinConfig{
					{Reference: "ANALYTICS.PUBLIC.CUSTOMERS.ID", Description: "order owner"},
				},
			},
		},
	}
}

func testMetadata() *fakeMetadata {
	return &fakeMetadata{
		columns: map[string][]domain.ColumnMeta{
			"ANALYTICS.PUBLIC.ORDERS": {
				{Name: "DS", Type: "DATE", Comment: "partition date"},
				{Name: "CUSTOMER_ID", Type: "NUMBER"},
				{Name: "REVENUE", Type: "FLOAT", Comment: "order revenue in USD"},
			},
		},
		dataRange: domain.DataRange{
			Min: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Max: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestBuilder_TableContext(t *testing.T) {
	b := NewBuilder(testMetadata())

	tc, err := b.TableContext(context.Background(), testUseCase())
	require.NoError(t, err)
	require.NotNil(t, tc)

	require.Len(t, tc.Tables, 1)
	tbl := tc.Tables[0]
	assert.Equal(t, "ORDERS", tbl.Name)
	assert.Equal(t, "Customer orders", tbl.Description)
	require.Len(t, tbl.Columns, 3)

	// warehouse comment wins, missing comment gets the placeholder
	assert.Equal(t, "partition date", tbl.Columns[0].Description)
	assert.Equal(t, "No description available", tbl.Columns[1].Description)

	// joins are attached to the right column only
	require.Len(t, tbl.Columns[1].Joins, 1)
	assert.Equal(t, "ANALYTICS.PUBLIC.CUSTOMERS.ID", tbl.Columns[1].Joins[0].Reference)
	assert.Empty(t, tbl.Columns[0].Joins)

	require.Len(t, tc.Examples, 1)
	assert.Equal(t, "revenue last week", tc.Examples[0].UserInput)
}

func TestBuilder_TableContext_JSONShape(t *testing.T) {
	b := NewBuilder(testMetadata())

	tc, err := b.TableContext(context.Background(), testUseCase())
	require.NoError(t, err)

	data, err := json.Marshal(tc)
	require.NoError(t, err)

	// the model is instructed against these exact keys
	assert.Contains(t, string(data), `"column_name":"DS"`)
	assert.Contains(t, string(data), `"column_type":"DATE"`)
	assert.Contains(t, string(data), `"column_description":"partition date"`)
	assert.Contains(t, string(data), `"column_joins"`)
	assert.Contains(t, string(data), `"user_input":"revenue last week"`)
}

func TestBuilder_TableContext_Errors(t *testing.T) {
	t.Run("metadata failure", func(t *testing.T) {
		meta := testMetadata()
		meta.columnsErr = errors.New("connection refused")
		b := NewBuilder(meta)

		_, err := b.TableContext(context.Background(), testUseCase())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetch columns for ANALYTICS.PUBLIC.ORDERS")
	})

	t.Run("no columns", func(t *testing.T) {
		meta := testMetadata()
		meta.columns = map[string][]domain.ColumnMeta{}
		b := NewBuilder(meta)

		_, err := b.TableContext(context.Background(), testUseCase())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no columns found")
	})
}

func TestBuilder_SystemPrompt(t *testing.T) {
	b := NewBuilder(testMetadata())

	prompt, err := b.SystemPrompt(context.Background(), testUseCase())
	require.NoError(t, err)

	// placeholders are substituted
	assert.NotContains(t, prompt, "{today}")
	assert.NotContains(t, prompt, "{min_date}")
	assert.NotContains(t, prompt, "{max_date}")
	assert.NotContains(t, prompt, "{context}")

	assert.Contains(t, prompt, "Today is "+time.Now().Format("2006-01-02"))
	assert.Contains(t, prompt, "available from 2024-01-01 to 2025-06-30")
	assert.Contains(t, prompt, `"column_name": "REVENUE"`)
	assert.Contains(t, prompt, "Do not** generate DML statements")
}

func TestBuilder_SystemPrompt_EmptyRange(t *testing.T) {
	meta := testMetadata()
	meta.dataRange = domain.DataRange{}
	b := NewBuilder(meta)

	_, err := b.SystemPrompt(context.Background(), testUseCase())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data found in ANALYTICS.PUBLIC.ORDERS")
}

func TestBuilder_SystemPrompt_RangeError(t *testing.T) {
	meta := testMetadata()
	meta.rangeErr = errors.New("table does not exist")
	b := NewBuilder(meta)

	_, err := b.SystemPrompt(context.Background(), testUseCase())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch data range")
}

func TestRenderSystemPrompt(t *testing.T) {
	today := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	dr := domain.DataRange{
		Min: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Max: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
	}

	out := renderSystemPrompt(`{"tables":[]}`, today, dr)
	assert.Contains(t, out, "Today is 2025-03-15")
	assert.Contains(t, out, "from 2024-01-01 to 2025-03-14")
	assert.True(t, strings.Contains(out, "```json {\"tables\":[]}```"))
}
