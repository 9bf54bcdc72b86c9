package warehouse

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlscope/sqlscope/pkg/config"
)

func TestBuildDSN(t *testing.T) {
	t.Run("password auth", func(t *testing.T) {
		dsn, err := buildDSN(config.SnowflakeConfig{
			Account:   "my-account",
			User:      "bot",
			Password:  "secret",
			Database:  "ANALYTICS",
			Schema:    "PUBLIC",
			Warehouse: "COMPUTE_WH",
			Role:      "ANALYST",
		})
		require.NoError(t, err)
		assert.Contains(t, dsn, "my-account")
		assert.Contains(t, dsn, "bot")
		assert.Contains(t, dsn, "ANALYTICS")
	})

	t.Run("oauth with inline token", func(t *testing.T) {
		dsn, err := buildDSN(config.SnowflakeConfig{
			Account:       "my-account",
			User:          "bot",
			Authenticator: "oauth",
			Token:         "tok-123",
		})
		require.NoError(t, err)
		assert.Contains(t, strings.ToLower(dsn), "authenticator=oauth")
		assert.Contains(t, dsn, "token="+url.QueryEscape("tok-123"))
	})

	t.Run("oauth with token file", func(t *testing.T) {
		tokenPath := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(tokenPath, []byte("tok-from-file\n"), 0o600))

		dsn, err := buildDSN(config.SnowflakeConfig{
			Account:       "my-account",
			User:          "bot",
			Authenticator: "oauth",
			TokenFile:     tokenPath,
		})
		require.NoError(t, err)
		assert.Contains(t, dsn, "token="+url.QueryEscape("tok-from-file"))
	})

	t.Run("oauth missing token", func(t *testing.T) {
		_, err := buildDSN(config.SnowflakeConfig{
			Account:       "my-account",
			User:          "bot",
			Authenticator: "oauth",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "oauth token is empty")
	})

	t.Run("oauth unreadable token file", func(t *testing.T) {
		_, err := buildDSN(config.SnowflakeConfig{
			Account:       "my-account",
			User:          "bot",
			Authenticator: "oauth",
			TokenFile:     "/non/existent/token",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read token file")
	})
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "bytes", in: []byte("hello"), want: "hello"},
		{name: "date", in: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), want: "2025-03-15"},
		{name: "datetime", in: time.Date(2025, 3, 15, 13, 45, 12, 0, time.UTC), want: "2025-03-15 13:45:12"},
		{name: "int", in: int64(42), want: "42"},
		{name: "float", in: 3.25, want: "3.25"},
		{name: "string", in: "plain", want: "plain"},
		{name: "bool", in: true, want: "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatValue(tt.in))
		})
	}
}
