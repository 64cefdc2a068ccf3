package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4-turbo"
	DefaultCalBaseURL    = "https://api.cal.com/v2"
)

// Config holds application configuration
type Config struct {
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string

	CalBaseURL            string
	CalAPIKey             string
	CalDefaultEventTypeID int64
	CalTimeout            time.Duration // per remote call

	AgentTimeout   time.Duration // per chat turn, tool calls included
	AgentMaxRounds int

	ServerAddr string
	MCPEnabled bool // Expose the tool registry over MCP JSON-RPC

	LogDir           string
	LogLevel         string
	AuditDBPath      string
	TelemetryEnabled bool
}

var defaults = map[string]any{
	"openai.base_url":           DefaultOpenAIBaseURL,
	"openai.api_key":            "",
	"openai.model":              DefaultOpenAIModel,
	"cal.base_url":              DefaultCalBaseURL,
	"cal.api_key":               "",
	"cal.default_event_type_id": 1,
	"cal.timeout":               "30s",
	"agent.timeout":             "2m",
	"agent.max_rounds":          8,
	"server.addr":               ":8000",
	"mcp.enabled":               false,
	"log.dir":                   "logs",
	"log.level":                 "info",
	"audit.db_path":             "calchat.db",
	"telemetry.enabled":         true,
}

// Load reads configuration from the environment (OPENAI_API_KEY, CAL_API_KEY, ...)
// and from any flags already bound to v.
func Load(v *viper.Viper) (Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Config{
		OpenAIBaseURL:         strings.TrimRight(v.GetString("openai.base_url"), "/"),
		OpenAIAPIKey:          v.GetString("openai.api_key"),
		OpenAIModel:           v.GetString("openai.model"),
		CalBaseURL:            strings.TrimRight(v.GetString("cal.base_url"), "/"),
		CalAPIKey:             v.GetString("cal.api_key"),
		CalDefaultEventTypeID: v.GetInt64("cal.default_event_type_id"),
		CalTimeout:            v.GetDuration("cal.timeout"),
		AgentTimeout:          v.GetDuration("agent.timeout"),
		AgentMaxRounds:        v.GetInt("agent.max_rounds"),
		ServerAddr:            v.GetString("server.addr"),
		MCPEnabled:            v.GetBool("mcp.enabled"),
		LogDir:                v.GetString("log.dir"),
		LogLevel:              v.GetString("log.level"),
		AuditDBPath:           v.GetString("audit.db_path"),
		TelemetryEnabled:      v.GetBool("telemetry.enabled"),
	}

	if cfg.CalTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid CAL_TIMEOUT %q", v.GetString("cal.timeout"))
	}
	if cfg.AgentTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid AGENT_TIMEOUT %q", v.GetString("agent.timeout"))
	}
	if cfg.AgentMaxRounds <= 0 {
		return Config{}, fmt.Errorf("invalid AGENT_MAX_ROUNDS %d", cfg.AgentMaxRounds)
	}
	return cfg, nil
}

// Validate checks the settings the chat service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY not set"))
	}
	if c.CalAPIKey == "" {
		errs = append(errs, errors.New("CAL_API_KEY not set"))
	}
	if c.CalDefaultEventTypeID <= 0 {
		errs = append(errs, fmt.Errorf("CAL_DEFAULT_EVENT_TYPE_ID must be positive, got %d", c.CalDefaultEventTypeID))
	}
	return errors.Join(errs...)
}
