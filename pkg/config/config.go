// Package config loads and validates the process-wide settings.
//
// Settings come from the environment (optionally seeded by a .env file) and
// may be overlaid by a YAML file. The struct is read-only after Load and
// safe for concurrent reads by simultaneous workflow runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings holds every knob the orchestrator and its transports need.
type Settings struct {
	AppName string `yaml:"app_name"`
	Debug   bool   `yaml:"debug"`

	// Hosted model runtime (OpenAI-compatible chat completions).
	ModelAPIBase string `yaml:"model_api_base"`
	ModelAPIKey  string `yaml:"model_api_key"`

	// Per-stage model identifiers. All five are required; a missing one
	// fails Load rather than failing at call time.
	IntentAgentModel   string `yaml:"intent_agent_model"`
	SQLAgentModel      string `yaml:"sql_agent_model"`
	VizAgentModel      string `yaml:"viz_agent_model"`
	FormatAgentModel   string `yaml:"format_agent_model"`
	GraphExecutorModel string `yaml:"graph_executor_model"`

	// Remote-tool channels.
	MCPServerURL      string `yaml:"mcp_server_url"`
	MCPChartServerURL string `yaml:"mcp_chart_server_url"`
	MCPTimeout        int    `yaml:"mcp_timeout"`     // seconds, connect/request
	MCPSSETimeout     int    `yaml:"mcp_sse_timeout"` // seconds, streaming read

	// Rate-limit retry policy for agent invocations.
	MaxRetries         int     `yaml:"max_retries"`
	RetryInitialDelay  float64 `yaml:"retry_initial_delay"` // seconds
	RetryBackoffFactor float64 `yaml:"retry_backoff_factor"`

	// HTTP front end.
	HTTPAddr       string `yaml:"http_addr"`
	RequestTimeout int    `yaml:"request_timeout"` // seconds, per /chat request

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	AuditLogDir string `yaml:"audit_log_dir"`
}

// Load builds Settings from a .env file (if present), the environment, and
// an optional YAML file at path. Environment values win over YAML values.
func Load(path string) (*Settings, error) {
	_ = godotenv.Load()

	s := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		expanded := os.Expand(string(data), os.Getenv)
		if err := yaml.Unmarshal([]byte(expanded), s); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	s.applyEnv()

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

func defaults() *Settings {
	return &Settings{
		AppName:            "Delfos Multi-Agent System",
		MCPTimeout:         60,
		MCPSSETimeout:      15,
		MaxRetries:         3,
		RetryInitialDelay:  5.0,
		RetryBackoffFactor: 2.0,
		HTTPAddr:           ":8080",
		RequestTimeout:     300,
		LogLevel:           "info",
		LogFormat:          "simple",
		AuditLogDir:        "logs",
	}
}

func (s *Settings) applyEnv() {
	setString(&s.AppName, "APP_NAME")
	setBool(&s.Debug, "DEBUG")
	setString(&s.ModelAPIBase, "MODEL_API_BASE")
	setString(&s.ModelAPIKey, "MODEL_API_KEY")
	setString(&s.IntentAgentModel, "INTENT_AGENT_MODEL")
	setString(&s.SQLAgentModel, "SQL_AGENT_MODEL")
	setString(&s.VizAgentModel, "VIZ_AGENT_MODEL")
	setString(&s.FormatAgentModel, "FORMAT_AGENT_MODEL")
	setString(&s.GraphExecutorModel, "GRAPH_EXECUTOR_MODEL")
	setString(&s.MCPServerURL, "MCP_SERVER_URL")
	setString(&s.MCPChartServerURL, "MCP_CHART_SERVER_URL")
	setInt(&s.MCPTimeout, "MCP_TIMEOUT")
	setInt(&s.MCPSSETimeout, "MCP_SSE_TIMEOUT")
	setInt(&s.MaxRetries, "MAX_RETRIES")
	setFloat(&s.RetryInitialDelay, "RETRY_INITIAL_DELAY")
	setFloat(&s.RetryBackoffFactor, "RETRY_BACKOFF_FACTOR")
	setString(&s.HTTPAddr, "HTTP_ADDR")
	setInt(&s.RequestTimeout, "REQUEST_TIMEOUT")
	setString(&s.LogLevel, "LOG_LEVEL")
	setString(&s.LogFormat, "LOG_FORMAT")
	setString(&s.AuditLogDir, "AUDIT_LOG_DIR")
}

// Validate checks that every field without a usable default is present.
func (s *Settings) Validate() error {
	var missing []string

	required := []struct {
		name  string
		value string
	}{
		{"MODEL_API_BASE", s.ModelAPIBase},
		{"MODEL_API_KEY", s.ModelAPIKey},
		{"INTENT_AGENT_MODEL", s.IntentAgentModel},
		{"SQL_AGENT_MODEL", s.SQLAgentModel},
		{"VIZ_AGENT_MODEL", s.VizAgentModel},
		{"FORMAT_AGENT_MODEL", s.FormatAgentModel},
		{"GRAPH_EXECUTOR_MODEL", s.GraphExecutorModel},
		{"MCP_SERVER_URL", s.MCPServerURL},
		{"MCP_CHART_SERVER_URL", s.MCPChartServerURL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if s.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1, got %d", s.MaxRetries)
	}
	if s.RetryBackoffFactor <= 0 {
		return fmt.Errorf("RETRY_BACKOFF_FACTOR must be positive, got %v", s.RetryBackoffFactor)
	}

	return nil
}

// MCPRequestTimeout returns the remote-tool connect/request timeout.
func (s *Settings) MCPRequestTimeout() time.Duration {
	return time.Duration(s.MCPTimeout) * time.Second
}

// MCPStreamTimeout returns the remote-tool streaming-read timeout.
func (s *Settings) MCPStreamTimeout() time.Duration {
	return time.Duration(s.MCPSSETimeout) * time.Second
}

func setString(target *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*target = v
	}
}

func setBool(target *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*target = parsed
		}
	}
}

func setInt(target *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			*target = parsed
		}
	}
}

func setFloat(target *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*target = parsed
		}
	}
}
