// Package config loads bridge configuration from files and environment.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full bridge configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Agent   AgentConfig   `mapstructure:"agent"`
	History HistoryConfig `mapstructure:"history"`
	NATS    NATSConfig    `mapstructure:"nats"`
}

// ServerConfig configures the HTTP bridge server
type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int `mapstructure:"write_timeout"` // seconds
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AgentConfig configures the agent subprocess and session engine
type AgentConfig struct {
	Command          string   `mapstructure:"command"`
	Args             []string `mapstructure:"args"`
	StopGraceSeconds int      `mapstructure:"stop_grace_seconds"`
	InboundQueueSize int      `mapstructure:"inbound_queue_size"`
	MaxLineBytes     int      `mapstructure:"max_line_bytes"`
}

// HistoryConfig configures transcript persistence
type HistoryConfig struct {
	Backend       string `mapstructure:"backend"` // memory or sqlite
	Path          string `mapstructure:"path"`
	MaxPerSession int    `mapstructure:"max_per_session"`
}

// NATSConfig configures the optional event bus connection
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"client_id"`
	MaxReconnects int    `mapstructure:"max_reconnects"`
}

// Load reads configuration from codex-bridge.yaml and CODEX_BRIDGE_* env vars
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("codex-bridge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/codex-bridge")

	v.SetEnvPrefix("CODEX_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; defaults plus env are enough
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("agent.command", "codex")
	v.SetDefault("agent.args", []string{"proto"})
	v.SetDefault("agent.stop_grace_seconds", 5)
	v.SetDefault("agent.inbound_queue_size", 256)
	v.SetDefault("agent.max_line_bytes", 1024*1024)

	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.path", "codex-history.db")
	v.SetDefault("history.max_per_session", 1000)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.client_id", "codex-bridge")
	v.SetDefault("nats.max_reconnects", 10)
}

// ReadTimeoutDuration returns the server read timeout as a duration
func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the server write timeout as a duration
func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// StopGrace returns the subprocess stop grace period as a duration
func (a AgentConfig) StopGrace() time.Duration {
	return time.Duration(a.StopGraceSeconds) * time.Second
}
