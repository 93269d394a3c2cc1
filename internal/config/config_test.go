package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
llm:
  provider: openai
  base_url: https://api.example.com
  api_key: dummy
  model: gpt-4o
  timeout: 30s
server:
  host: 127.0.0.1
  port: "9090"
history:
  file: saved.json
  archive_path: archive.db
session:
  reset_gateway_on_clear: false
  user_turn: on_success
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString(body); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()
	return tmp.Name()
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"OPENAI_API_KEY", "LLM_API_KEY", "PORT", "SERVER_PORT", "LLM_MODEL", "OPENAI_BASE_URL", "LLM_BASE_URL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

// TestLoad_File verifies that Load correctly unmarshals every section.
func TestLoad_File(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleConfig))

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "https://api.example.com", cfg.LLM.BaseURL)
	require.Equal(t, "dummy", cfg.LLM.APIKey)
	require.Equal(t, "gpt-4o", cfg.LLM.Model)
	require.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	require.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	require.Equal(t, "saved.json", cfg.History.File)
	require.Equal(t, "archive.db", cfg.History.ArchivePath)
	require.False(t, cfg.Session.ResetGatewayOnClear)
	require.True(t, cfg.Session.MarkFailures)
	require.Equal(t, UserTurnOnSuccess, cfg.Session.UserTurn)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", "")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	require.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	require.Equal(t, "chat_history.json", cfg.History.File)
	require.Empty(t, cfg.History.ArchivePath)
	require.True(t, cfg.Session.ResetGatewayOnClear)
	require.Equal(t, UserTurnFirst, cfg.Session.UserTurn)
	require.Zero(t, cfg.LLM.Timeout)
	require.Equal(t, 30*time.Minute, cfg.Server.SessionIdleTimeout)
	require.Equal(t, 1000, cfg.Server.MaxSessions)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleConfig))
	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("PORT", "7000")
	t.Setenv("LLM_MODEL", "gpt-4.1")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.LLM.APIKey)
	require.Equal(t, "7000", cfg.Server.Port)
	require.Equal(t, "gpt-4.1", cfg.LLM.Model)
}

func TestLoad_FlagsWin(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleConfig))
	t.Setenv("LLM_MODEL", "from-env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--model", "from-flag", "--history-file", "flag.json"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	require.Equal(t, "from-flag", cfg.LLM.Model)
	require.Equal(t, "flag.json", cfg.History.File)
	// untouched flags do not shadow the file
	require.False(t, cfg.Session.ResetGatewayOnClear)
}

func TestLoad_InvalidUserTurn(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", writeConfig(t, "session:\n  user_turn: sometimes\n"))

	_, err := Load()
	require.ErrorContains(t, err, "session.user_turn")
}

func TestLoad_BadYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_PATH", writeConfig(t, "llm: [unclosed"))

	_, err := Load()
	require.Error(t, err)
}
