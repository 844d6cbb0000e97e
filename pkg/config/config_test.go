package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MODEL_API_BASE", "https://models.example.com/v1")
	t.Setenv("MODEL_API_KEY", "secret")
	t.Setenv("INTENT_AGENT_MODEL", "gpt-intent")
	t.Setenv("SQL_AGENT_MODEL", "gpt-sql")
	t.Setenv("VIZ_AGENT_MODEL", "gpt-viz")
	t.Setenv("FORMAT_AGENT_MODEL", "gpt-format")
	t.Setenv("GRAPH_EXECUTOR_MODEL", "gpt-graph")
	t.Setenv("MCP_SERVER_URL", "https://mcp.example.com/mcp")
	t.Setenv("MCP_CHART_SERVER_URL", "https://charts.example.com/mcp")
}

func TestLoadFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MCP_TIMEOUT", "30")
	t.Setenv("LOG_LEVEL", "debug")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://models.example.com/v1", s.ModelAPIBase)
	assert.Equal(t, "gpt-sql", s.SQLAgentModel)
	assert.Equal(t, 30*time.Second, s.MCPRequestTimeout())
	assert.Equal(t, "debug", s.LogLevel)

	// Defaults survive when unset.
	assert.Equal(t, 3, s.MaxRetries)
	assert.Equal(t, 5.0, s.RetryInitialDelay)
	assert.Equal(t, ":8080", s.HTTPAddr)
	assert.Equal(t, "logs", s.AuditLogDir)
}

func TestLoadMissingModelIdentifiersFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VIZ_AGENT_MODEL", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VIZ_AGENT_MODEL")
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("HTTP_ADDR", ":9999")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":7777\"\nmax_retries: 5\n"), 0644))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, s.MaxRetries, "yaml value applies")
	assert.Equal(t, ":9999", s.HTTPAddr, "environment wins over yaml")
}

func TestLoadYAMLExpandsEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUDIT_ROOT", "/var/log/delfos")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audit_log_dir: ${AUDIT_ROOT}\n"), 0644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/log/delfos", s.AuditLogDir)
}

func TestLoadUnreadableConfigFile(t *testing.T) {
	setRequiredEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRetrySettings(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_RETRIES", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_RETRIES")
}
