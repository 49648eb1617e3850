package config

import (
	_ "embed"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v9"
)

//go:embed config.example.toml
var exampleConf []byte

// EnvPrefix is prepended to every environment override
const EnvPrefix = "ARCHIVIST_"

// Config represents the application configuration
type Config struct {
	Server ServerConfig `toml:"server" envPrefix:"SERVER_"`
	Jobs   JobsConfig   `toml:"jobs" envPrefix:"JOBS_"`
	Log    LogConfig    `toml:"log" envPrefix:"LOG_"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host        string   `toml:"host" env:"HOST"`
	Port        int      `toml:"port" env:"PORT"`
	CORSOrigins []string `toml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
	Mode        string   `toml:"mode" env:"MODE"`
}

// JobsConfig tunes the job engine
type JobsConfig struct {
	PromptTimeout    time.Duration `toml:"prompt_timeout" env:"PROMPT_TIMEOUT"`
	Retention        time.Duration `toml:"retention" env:"RETENTION"`
	TempDir          string        `toml:"temp_dir" env:"TEMP_DIR"`
	ProgressInterval time.Duration `toml:"progress_interval" env:"PROGRESS_INTERVAL"`
	SpeedInterval    time.Duration `toml:"speed_interval" env:"SPEED_INTERVAL"`
	CommitAttempts   uint          `toml:"commit_attempts" env:"COMMIT_ATTEMPTS"`
	SizeWorkers      int           `toml:"size_workers" env:"SIZE_WORKERS"`
}

// LogConfig controls the logger and its optional rotating file sink
type LogConfig struct {
	Level      string `toml:"level" env:"LEVEL"`
	File       string `toml:"file" env:"FILE"`
	MaxSizeMB  int    `toml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `toml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `toml:"max_age_days" env:"MAX_AGE_DAYS"`
}

// Addr returns the listen address for the HTTP server
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DefaultConfig returns a Config with defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// LoadConfig reads a TOML file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// Load resolves the effective configuration: embedded defaults, then the
// optional file at path, then ARCHIVIST_* environment variables.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects values the job engine cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Jobs.PromptTimeout <= 0 {
		return fmt.Errorf("jobs.prompt_timeout must be positive")
	}
	if c.Jobs.CommitAttempts == 0 {
		c.Jobs.CommitAttempts = 1
	}
	if c.Jobs.SizeWorkers <= 0 {
		c.Jobs.SizeWorkers = 1
	}
	return nil
}

// CreateConfigFile writes the embedded example config to path.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
