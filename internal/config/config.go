package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
)

// Config carries settings for both binaries. The server reads the Server
// section, the agent the Agent section; AMQP is shared.
type Config struct {
	Server Server
	Agent  Agent
	AMQP   AMQP

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type Server struct {
	Port      string `env:"PORT" envDefault:"8081"`
	DBPath    string `env:"SQLITE_DB_PATH" envDefault:"./data/conti.db"`
	JWTSecret string `env:"JWT_SECRET"`
}

type Agent struct {
	ServerURL    string        `env:"SERVER_URL" envDefault:"http://localhost:8081"`
	APIToken     string        `env:"API_TOKEN"`
	CacheDBPath  string        `env:"CACHE_DB_PATH" envDefault:"./data/cache.db"`
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"30s"`
	// DownloadLimit caps the transaction collection fetched per sync.
	DownloadLimit int `env:"DOWNLOAD_LIMIT" envDefault:"500"`
	// SuccessReset is how long the engine stays in Success before returning to Idle.
	SuccessReset time.Duration `env:"SUCCESS_RESET" envDefault:"3s"`
}

type AMQP struct {
	URL      string `env:"AMQP_URL"`
	Exchange string `env:"AMQP_EXCHANGE" envDefault:"conti"`
	Queue    string `env:"AMQP_QUEUE" envDefault:"ledger_events"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Server.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Server.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.Server.DBPath == "" {
		errs = append(errs, "SQLite database path cannot be empty")
	}

	if c.Agent.ServerURL != "" {
		if parsed, err := url.Parse(c.Agent.ServerURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid server URL '%s': %v", c.Agent.ServerURL, err))
		} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
			errs = append(errs, fmt.Sprintf("invalid server URL scheme '%s': must be 'http' or 'https'", parsed.Scheme))
		}
	}

	if c.AMQP.URL != "" {
		if parsed, err := url.Parse(c.AMQP.URL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQP.URL, err))
		} else if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsed.Scheme))
		}
		if c.AMQP.Exchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQP.Queue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.Agent.SyncInterval < time.Second {
		errs = append(errs, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.Agent.SyncInterval))
	} else if c.Agent.SyncInterval > 24*time.Hour {
		errs = append(errs, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.Agent.SyncInterval))
	}

	if c.Agent.DownloadLimit < 1 {
		errs = append(errs, fmt.Sprintf("invalid download limit %d: must be at least 1", c.Agent.DownloadLimit))
	} else if c.Agent.DownloadLimit > 10000 {
		errs = append(errs, fmt.Sprintf("invalid download limit %d: must be at most 10000", c.Agent.DownloadLimit))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}

	return nil
}
