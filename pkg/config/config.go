package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:sqlscope.db?cache=shared&mode=rwc,description=Local database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Local database configuration"`

	Snowflake SnowflakeConfig `yaml:"snowflake" json:"snowflake" jsonschema:"description=Snowflake warehouse connection"`

	LLM LLMConfig `yaml:"llm" json:"llm" jsonschema:"description=LLM configuration for SQL generation"`

	Schedule struct {
		ShipInterval    time.Duration `yaml:"ship_interval" json:"ship_interval" jsonschema:"default=1m,description=Interval between warehouse log shipping runs"`
		ShipBatch       int           `yaml:"ship_batch" json:"ship_batch" jsonschema:"default=50,description=Maximum log entries shipped per run"`
		RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval" jsonschema:"default=6h,description=Interval between table context refreshes"`
	} `yaml:"schedule" json:"schedule" jsonschema:"description=Background worker configuration"`

	Feedback struct {
		EmailDomain string `yaml:"email_domain" json:"email_domain" jsonschema:"description=Company email domain required for bug reports (e.g. example.com)"`
	} `yaml:"feedback" json:"feedback" jsonschema:"description=Feedback and bug report settings"`

	UseCases []UseCaseConfig `yaml:"use_cases" json:"use_cases" jsonschema:"required,description=Business use cases the assistant can answer about"`
}

// SnowflakeConfig holds warehouse connection settings
type SnowflakeConfig struct {
	Account       string `yaml:"account" json:"account" jsonschema:"required,description=Snowflake account identifier"`
	User          string `yaml:"user" json:"user" jsonschema:"required,description=Snowflake user"`
	Role          string `yaml:"role" json:"role" jsonschema:"description=Snowflake role"`
	Database      string `yaml:"database" json:"database" jsonschema:"description=Default database"`
	Schema        string `yaml:"schema" json:"schema" jsonschema:"description=Default schema"`
	Warehouse     string `yaml:"warehouse" json:"warehouse" jsonschema:"description=Virtual warehouse"`
	Authenticator string `yaml:"authenticator" json:"authenticator" jsonschema:"default=password,enum=password,enum=oauth,description=Authentication method"`
	Password      string `yaml:"password" json:"password" jsonschema:"description=Password (password auth, can use environment variable)"`
	Token         string `yaml:"token" json:"token" jsonschema:"description=OAuth token (oauth auth, can use environment variable)"`
	TokenFile     string `yaml:"token_file" json:"token_file" jsonschema:"description=Path to a file with the OAuth token, re-read on connect"`
	LogTable      string `yaml:"log_table" json:"log_table" jsonschema:"default=CHAT_HISTORY,description=Table for chat history writeback"`
	BugTable      string `yaml:"bug_table" json:"bug_table" jsonschema:"default=BUG_REPORTS,description=Table for bug report writeback"`
}

// LLMConfig holds LLM configuration for SQL generation
type LLMConfig struct {
	Endpoint    string        `yaml:"endpoint" json:"endpoint" jsonschema:"description=OpenAI-compatible API endpoint"`
	APIKey      string        `yaml:"api_key" json:"api_key" jsonschema:"description=API key (can use environment variable)"`
	Model       string        `yaml:"model" json:"model" jsonschema:"required,description=Model name (e.g. gpt-4o)"`
	Temperature float64       `yaml:"temperature" json:"temperature" jsonschema:"default=0,description=Temperature for response generation"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens" jsonschema:"default=2000,description=Maximum tokens in response"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=60s,description=Request timeout"`
}

// UseCaseConfig describes one business use case: which tables the model may
// query and the curated context that goes into its prompt
type UseCaseConfig struct {
	Name           string              `yaml:"name" json:"name" jsonschema:"required,description=Use case name shown to users"`
	MainDatasource string              `yaml:"main_datasource" json:"main_datasource" jsonschema:"required,description=Fully qualified table supplying the available date range"`
	Tables         []TableConfig       `yaml:"tables" json:"tables" jsonschema:"required,description=Tables exposed to the model"`
	Examples       []ExampleConfig     `yaml:"examples" json:"examples" jsonschema:"description=Example question/SQL pairs to guide generation"`
	Relationships  map[string]JoinList `yaml:"relationships" json:"relationships" jsonschema:"description=Join relationships keyed by table then column"`
}

// TableConfig describes one table of a use case
type TableConfig struct {
	Database    string   `yaml:"database" json:"database" jsonschema:"required"`
	Schema      string   `yaml:"schema" json:"schema" jsonschema:"required"`
	Table       string   `yaml:"table" json:"table" jsonschema:"required"`
	Columns     []string `yaml:"columns" json:"columns" jsonschema:"description=Restrict prompt context to these columns, all when empty"`
	Description string   `yaml:"description" json:"description" jsonschema:"description=Free-form table description for the prompt"`
}

// JoinList maps column name to its join references
type JoinList map[string][]JoinConfig

// JoinConfig describes a single join reference
type JoinConfig struct {
	Reference   string `yaml:"reference" json:"reference"`
	Description string `yaml:"description" json:"description"`
}

// ExampleConfig is a question/SQL example pair
type ExampleConfig struct {
	UserInput string `yaml:"user_input" json:"user_input"`
	SQLQuery  string `yaml:"sql_query" json:"sql_query"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// set defaults for server
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	// set defaults for database
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:sqlscope.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	// set defaults for snowflake
	if cfg.Snowflake.Authenticator == "" {
		cfg.Snowflake.Authenticator = "password"
	}
	if cfg.Snowflake.LogTable == "" {
		cfg.Snowflake.LogTable = "CHAT_HISTORY"
	}
	if cfg.Snowflake.BugTable == "" {
		cfg.Snowflake.BugTable = "BUG_REPORTS"
	}

	// set defaults for LLM
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2000
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}

	// set defaults for schedule
	if cfg.Schedule.ShipInterval == 0 {
		cfg.Schedule.ShipInterval = time.Minute
	}
	if cfg.Schedule.ShipBatch == 0 {
		cfg.Schedule.ShipBatch = 50
	}
	if cfg.Schedule.RefreshInterval == 0 {
		cfg.Schedule.RefreshInterval = 6 * time.Hour
	}

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// validate checks configuration for correctness
func validate(cfg *Config) error {

	// validate LLM config
	if cfg.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}

	// validate snowflake config
	if cfg.Snowflake.Account == "" {
		return fmt.Errorf("snowflake.account is required")
	}
	if cfg.Snowflake.User == "" {
		return fmt.Errorf("snowflake.user is required")
	}
	switch cfg.Snowflake.Authenticator {
	case "password":
		if cfg.Snowflake.Password == "" {
			return fmt.Errorf("snowflake.password is required for password authenticator")
		}
	case "oauth":
		if cfg.Snowflake.Token == "" && cfg.Snowflake.TokenFile == "" {
			return fmt.Errorf("snowflake.token or snowflake.token_file is required for oauth authenticator")
		}
	default:
		return fmt.Errorf("snowflake.authenticator must be password or oauth")
	}

	// validate use cases
	if len(cfg.UseCases) == 0 {
		return fmt.Errorf("at least one use case is required")
	}
	seen := make(map[string]bool)
	for i, uc := range cfg.UseCases {
		if uc.Name == "" {
			return fmt.Errorf("use_cases[%d].name is required", i)
		}
		if seen[strings.ToLower(uc.Name)] {
			return fmt.Errorf("duplicate use case name %q", uc.Name)
		}
		seen[strings.ToLower(uc.Name)] = true
		if uc.MainDatasource == "" {
			return fmt.Errorf("use case %q: main_datasource is required", uc.Name)
		}
		if len(uc.Tables) == 0 {
			return fmt.Errorf("use case %q: at least one table is required", uc.Name)
		}
		for j, tbl := range uc.Tables {
			if tbl.Database == "" || tbl.Schema == "" || tbl.Table == "" {
				return fmt.Errorf("use case %q: tables[%d] needs database, schema and table", uc.Name, j)
			}
		}
	}

	// validate server config
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// GetLLMConfig returns LLM configuration
func (c *Config) GetLLMConfig() LLMConfig {
	return c.LLM
}

// GetSnowflakeConfig returns warehouse connection configuration
func (c *Config) GetSnowflakeConfig() SnowflakeConfig {
	return c.Snowflake
}

// BugEmailDomain returns the required email domain for bug reporters,
// empty when any domain is accepted
func (c *Config) BugEmailDomain() string {
	return c.Feedback.EmailDomain
}

// GetUseCase returns the use case config by name, nil when unknown
func (c *Config) GetUseCase(name string) *UseCaseConfig {
	for i := range c.UseCases {
		if strings.EqualFold(c.UseCases[i].Name, name) {
			return &c.UseCases[i]
		}
	}
	return nil
}

// UseCaseNames returns configured use case names in order
func (c *Config) UseCaseNames() []string {
	names := make([]string, 0, len(c.UseCases))
	for _, uc := range c.UseCases {
		names = append(names, uc.Name)
	}
	return names
}
