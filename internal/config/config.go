// Package config loads navigator configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all navigator configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Journal JournalConfig `mapstructure:"journal"`
	Tree    TreeConfig    `mapstructure:"tree"`
}

// ServerConfig locates the workspace server.
type ServerConfig struct {
	URL       string        `mapstructure:"url"`
	Token     string        `mapstructure:"token"`
	TokenFile string        `mapstructure:"token_file"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RetryConfig is the transport retry policy for 5xx and network failures.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	InitialWait time.Duration `mapstructure:"initial_wait"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// JournalConfig selects the action journal database. An empty DSN disables it.
type JournalConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// TreeConfig controls how the workspace tree orders names.
type TreeConfig struct {
	CaseInsensitive bool `mapstructure:"case_insensitive"`
}

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "navigator")
}

// Load reads configuration from file and env. Env var overrides use prefix
// NAVIGATOR_, e.g. NAVIGATOR_SERVER_URL. NAVIGATOR_CONFIG names the file.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("server.token", "")
	v.SetDefault("server.token_file", filepath.Join(configDir(), "token.json"))
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_wait", 100*time.Millisecond)
	v.SetDefault("retry.max_wait", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("journal.driver", "sqlite")
	v.SetDefault("journal.dsn", filepath.Join(configDir(), "journal.db"))
	v.SetDefault("tree.case_insensitive", false)

	v.SetConfigType("toml")
	if cfgPath := os.Getenv("NAVIGATOR_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(configDir())
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("NAVIGATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	c.Server.URL = strings.TrimSuffix(c.Server.URL, "/")
	switch c.Journal.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("journal.driver must be sqlite or postgres, got %q", c.Journal.Driver)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	return nil
}
