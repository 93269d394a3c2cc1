package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// UserTurnPolicy controls when the user's turn is written to history.
type UserTurnPolicy string

const (
	// UserTurnFirst records the user turn before the model is called.
	UserTurnFirst UserTurnPolicy = "first"
	// UserTurnOnSuccess records the user turn only together with a reply.
	UserTurnOnSuccess UserTurnPolicy = "on_success"
)

// Config holds the application configuration
type Config struct {
	LLM     LLMConfig
	Server  ServerConfig
	History HistoryConfig
	Session SessionConfig
	Log     LogConfig
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	// SessionIdleTimeout drops browser sessions not seen for this long.
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
	MaxSessions        int           `mapstructure:"max_sessions"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

// HistoryConfig holds where conversations are saved.
type HistoryConfig struct {
	File        string `mapstructure:"file"`
	ArchivePath string `mapstructure:"archive_path"`
}

// SessionConfig holds conversation behaviour switches.
type SessionConfig struct {
	ResetGatewayOnClear bool           `mapstructure:"reset_gateway_on_clear"`
	MarkFailures        bool           `mapstructure:"mark_failures"`
	UserTurn            UserTurnPolicy `mapstructure:"user_turn"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("llm.timeout", time.Duration(0))
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.session_idle_timeout", 30*time.Minute)
	v.SetDefault("server.max_sessions", 1000)
	v.SetDefault("history.file", "chat_history.json")
	v.SetDefault("history.archive_path", "")
	v.SetDefault("session.reset_gateway_on_clear", true)
	v.SetDefault("session.mark_failures", true)
	v.SetDefault("session.user_turn", string(UserTurnFirst))
	v.SetDefault("log.level", "info")
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := map[string][]string{
		"llm.api_key":  {"LLM_API_KEY", "OPENAI_API_KEY"},
		"llm.base_url": {"LLM_BASE_URL", "OPENAI_BASE_URL"},
		"server.port":  {"SERVER_PORT", "PORT"},
	}
	for key, envs := range explicit {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

// Load loads the configuration from config.yaml (or the file named by
// CONFIG_PATH), the environment, and optionally a set of parsed flags.
// A missing config file is not an error; everything has a default.
func Load(flags ...*pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for _, fs := range flags {
		if fs == nil {
			continue
		}
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	switch config.Session.UserTurn {
	case UserTurnFirst, UserTurnOnSuccess:
	default:
		return nil, fmt.Errorf("invalid session.user_turn %q (want %q or %q)", config.Session.UserTurn, UserTurnFirst, UserTurnOnSuccess)
	}

	return &config, nil
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"model":         "llm.model",
	"base-url":      "llm.base_url",
	"system-prompt": "llm.system_prompt",
	"timeout":       "llm.timeout",
	"history-file":  "history.file",
	"archive":       "history.archive_path",
	"reset-memory":  "session.reset_gateway_on_clear",
	"log-level":     "log.level",
	"host":          "server.host",
	"port":          "server.port",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// RegisterFlags adds the flags shared by both binaries to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("model", "m", "", "model name (overrides config)")
	fs.String("base-url", "", "OpenAI-compatible API base URL")
	fs.String("system-prompt", "", "system prompt sent before the conversation")
	fs.Duration("timeout", 0, "per-request timeout, 0 waits forever")
	fs.String("history-file", "", "file used by /save and /load")
	fs.String("archive", "", "SQLite file mirroring every turn (empty disables)")
	fs.Bool("reset-memory", true, "also reset the model's memory when clearing history")
	fs.String("log-level", "", "debug, info, warn or error")
}
