package warehouse

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		forbidden bool
	}{
		{name: "plain select", query: "SELECT DS, REVENUE FROM ANALYTICS.PUBLIC.ORDERS LIMIT 10", forbidden: false},
		{name: "select with cte", query: "WITH daily AS (SELECT DS FROM ORDERS) SELECT * FROM daily", forbidden: false},
		{name: "insert", query: "INSERT INTO ORDERS VALUES (1)", forbidden: true},
		{name: "lowercase delete", query: "delete from orders", forbidden: true},
		{name: "mixed case drop", query: "DrOp TABLE orders", forbidden: true},
		{name: "update buried in query", query: "SELECT 1; UPDATE orders SET a=1", forbidden: true},
		{name: "create", query: "CREATE TABLE t (a INT)", forbidden: true},
		{name: "alter", query: "ALTER TABLE t ADD COLUMN b INT", forbidden: true},
		{name: "truncate", query: "TRUNCATE TABLE t", forbidden: true},
		{name: "keyword inside identifier", query: "SELECT created_at, updates_count FROM ORDERS", forbidden: false},
		{name: "empty", query: "", forbidden: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Guard(tt.query)
			if tt.forbidden {
				require.Error(t, err)
				var forbidden *ErrForbiddenSQL
				assert.ErrorAs(t, err, &forbidden)
				assert.Contains(t, err.Error(), "Nice try")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidIdent(t *testing.T) {
	assert.True(t, validIdent("ANALYTICS"))
	assert.True(t, validIdent("ANALYTICS.PUBLIC.ORDERS"))
	assert.True(t, validIdent("my_db.s$1.t_2"))

	assert.False(t, validIdent(""))
	assert.False(t, validIdent("1db"))
	assert.False(t, validIdent("db..table"))
	assert.False(t, validIdent("db.table;DROP TABLE x"))
	assert.False(t, validIdent("db table"))
}

func TestUserErrorMessage(t *testing.T) {
	t.Run("compilation error trimmed", func(t *testing.T) {
		err := errors.New("001003 (42000): SQL compilation error:\nsyntax error line 1 at position 7 unexpected 'FORM'.")
		assert.Equal(t, "syntax error line 1 at position 7 unexpected 'FORM'.", userErrorMessage(err))
	})

	t.Run("other errors kept as is", func(t *testing.T) {
		err := errors.New("390114 (08001): Authentication token has expired.")
		assert.Equal(t, "390114 (08001): Authentication token has expired.", userErrorMessage(err))
	})
}
