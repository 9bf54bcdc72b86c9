package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig is the smallest config passing validation, tests append to it
const validConfig = `
snowflake:
  account: my-account
  user: bot
  password: secret

llm:
  model: gpt-4o

use_cases:
  - name: Sales
    main_datasource: ANALYTICS.PUBLIC.ORDERS
    tables:
      - database: ANALYTICS
        schema: PUBLIC
        table: ORDERS
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yml")
	err := os.WriteFile(configPath, []byte(content), 0o644)
	require.NoError(t, err)
	return configPath
}

func TestLoad(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		configContent := `
server:
  listen: ":9090"
  timeout: 45s

snowflake:
  account: my-account
  user: bot
  role: ANALYST
  database: ANALYTICS
  schema: PUBLIC
  warehouse: COMPUTE_WH
  password: secret

llm:
  endpoint: https://llm.example.com/v1
  api_key: sk-test
  model: gpt-4o
  temperature: 0.2

use_cases:
  - name: Sales
    main_datasource: ANALYTICS.PUBLIC.ORDERS
    tables:
      - database: ANALYTICS
        schema: PUBLIC
        table: ORDERS
        columns: [DS, REVENUE]
        description: Customer orders
    examples:
      - user_input: revenue last week
        sql_query: SELECT SUM(REVENUE) FROM ORDERS
`
		cfg, err := Load(writeConfig(t, configContent))
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, ":9090", cfg.Server.Listen)
		assert.Equal(t, 45*time.Second, cfg.Server.Timeout)

		assert.Equal(t, "my-account", cfg.Snowflake.Account)
		assert.Equal(t, "ANALYST", cfg.Snowflake.Role)
		assert.Equal(t, "password", cfg.Snowflake.Authenticator) // default

		assert.Equal(t, "https://llm.example.com/v1", cfg.LLM.Endpoint)
		assert.Equal(t, "gpt-4o", cfg.LLM.Model)
		assert.InDelta(t, 0.2, cfg.LLM.Temperature, 0.0001)

		require.Len(t, cfg.UseCases, 1)
		assert.Equal(t, "Sales", cfg.UseCases[0].Name)
		assert.Equal(t, "ANALYTICS.PUBLIC.ORDERS", cfg.UseCases[0].MainDatasource)
		require.Len(t, cfg.UseCases[0].Tables, 1)
		assert.Equal(t, []string{"DS", "REVENUE"}, cfg.UseCases[0].Tables[0].Columns)
		require.Len(t, cfg.UseCases[0].Examples, 1)
		assert.Equal(t, "revenue last week", cfg.UseCases[0].Examples[0].UserInput)
	})

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, validConfig))
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, ":8080", cfg.Server.Listen)
		assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
		assert.Equal(t, 10, cfg.Database.MaxOpenConns)
		assert.Equal(t, "CHAT_HISTORY", cfg.Snowflake.LogTable)
		assert.Equal(t, "BUG_REPORTS", cfg.Snowflake.BugTable)
		assert.Equal(t, 2000, cfg.LLM.MaxTokens)
		assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
		assert.Equal(t, time.Minute, cfg.Schedule.ShipInterval)
		assert.Equal(t, 50, cfg.Schedule.ShipBatch)
		assert.Equal(t, 6*time.Hour, cfg.Schedule.RefreshInterval)
	})

	t.Run("file not found", func(t *testing.T) {
		cfg, err := Load("/non/existent/file.yml")
		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "read config file")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "invalid: yaml: content: ["))
		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "parse config")
	})

	t.Run("env expansion", func(t *testing.T) {
		t.Setenv("TEST_SF_PASSWORD", "expanded-secret")
		configContent := `
snowflake:
  account: my-account
  user: bot
  password: ${TEST_SF_PASSWORD}

llm:
  model: gpt-4o

use_cases:
  - name: Sales
    main_datasource: ANALYTICS.PUBLIC.ORDERS
    tables:
      - database: ANALYTICS
        schema: PUBLIC
        table: ORDERS
`
		cfg, err := Load(writeConfig(t, configContent))
		require.NoError(t, err)
		assert.Equal(t, "expanded-secret", cfg.Snowflake.Password)
	})
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name: "missing model",
			content: `
snowflake: {account: a, user: u, password: p}
use_cases:
  - name: Sales
    main_datasource: T
    tables: [{database: D, schema: S, table: T}]
`,
			errMsg: "llm.model is required",
		},
		{
			name: "missing account",
			content: `
snowflake: {user: u, password: p}
llm: {model: gpt-4o}
use_cases:
  - name: Sales
    main_datasource: T
    tables: [{database: D, schema: S, table: T}]
`,
			errMsg: "snowflake.account is required",
		},
		{
			name: "password auth without password",
			content: `
snowflake: {account: a, user: u}
llm: {model: gpt-4o}
use_cases:
  - name: Sales
    main_datasource: T
    tables: [{database: D, schema: S, table: T}]
`,
			errMsg: "snowflake.password is required",
		},
		{
			name: "oauth without token",
			content: `
snowflake: {account: a, user: u, authenticator: oauth}
llm: {model: gpt-4o}
use_cases:
  - name: Sales
    main_datasource: T
    tables: [{database: D, schema: S, table: T}]
`,
			errMsg: "snowflake.token or snowflake.token_file is required",
		},
		{
			name: "bad authenticator",
			content: `
snowflake: {account: a, user: u, authenticator: keypair}
llm: {model: gpt-4o}
use_cases:
  - name: Sales
    main_datasource: T
    tables: [{database: D, schema: S, table: T}]
`,
			errMsg: "snowflake.authenticator must be password or oauth",
		},
		{
			name: "no use cases",
			content: `
snowflake: {account: a, user: u, password: p}
llm: {model: gpt-4o}
`,
			errMsg: "at least one use case is required",
		},
		{
			name: "duplicate use case",
			content: `
snowflake: {account: a, user: u, password: p}
llm: {model: gpt-4o}
use_cases:
  - name: Sales
    main_datasource: T
    tables: [{database: D, schema: S, table: T}]
  - name: sales
    main_datasource: T
    tables: [{database: D, schema: S, table: T}]
`,
			errMsg: "duplicate use case name",
		},
		{
			name: "use case without tables",
			content: `
snowflake: {account: a, user: u, password: p}
llm: {model: gpt-4o}
use_cases:
  - name: Sales
    main_datasource: T
`,
			errMsg: "at least one table is required",
		},
		{
			name: "temperature out of range",
			content: `
snowflake: {account: a, user: u, password: p}
llm: {model: gpt-4o, temperature: 3}
use_cases:
  - name: Sales
    main_datasource: T
    tables: [{database: D, schema: S, table: T}]
`,
			errMsg: "llm.temperature must be between 0 and 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_Getters(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	listen, timeout := cfg.GetServerConfig()
	assert.Equal(t, ":8080", listen)
	assert.Equal(t, 30*time.Second, timeout)

	assert.Equal(t, "gpt-4o", cfg.GetLLMConfig().Model)
	assert.Equal(t, "my-account", cfg.GetSnowflakeConfig().Account)
	assert.Equal(t, []string{"Sales"}, cfg.UseCaseNames())
	assert.Empty(t, cfg.BugEmailDomain())
}

func TestConfig_GetUseCase(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	uc := cfg.GetUseCase("sales") // case-insensitive
	require.NotNil(t, uc)
	assert.Equal(t, "Sales", uc.Name)

	assert.Nil(t, cfg.GetUseCase("marketing"))
}
