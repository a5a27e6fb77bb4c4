package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: Server{
			Port:      "8081",
			DBPath:    "./test.db",
			JWTSecret: "secret",
		},
		Agent: Agent{
			ServerURL:     "http://localhost:8081",
			CacheDBPath:   "./cache.db",
			SyncInterval:  30 * time.Second,
			DownloadLimit: 500,
			SuccessReset:  3 * time.Second,
		},
		LogLevel: "info",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		wantErr     bool
		errorString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:        "invalid port - non-numeric",
			mutate:      func(c *Config) { c.Server.Port = "abc" },
			wantErr:     true,
			errorString: "invalid port 'abc': must be a number",
		},
		{
			name:        "invalid port - out of range",
			mutate:      func(c *Config) { c.Server.Port = "70000" },
			wantErr:     true,
			errorString: "invalid port 70000: must be between 1 and 65535",
		},
		{
			name:        "missing database path",
			mutate:      func(c *Config) { c.Server.DBPath = "" },
			wantErr:     true,
			errorString: "SQLite database path cannot be empty",
		},
		{
			name:        "invalid server URL scheme",
			mutate:      func(c *Config) { c.Agent.ServerURL = "ftp://localhost" },
			wantErr:     true,
			errorString: "invalid server URL scheme 'ftp': must be 'http' or 'https'",
		},
		{
			name:        "invalid AMQP URL scheme",
			mutate:      func(c *Config) { c.AMQP.URL = "http://localhost:5672/" },
			wantErr:     true,
			errorString: "invalid AMQP URL scheme 'http': must be 'amqp' or 'amqps'",
		},
		{
			name: "AMQP URL without exchange",
			mutate: func(c *Config) {
				c.AMQP.URL = "amqp://localhost:5672/"
				c.AMQP.Queue = "q"
			},
			wantErr:     true,
			errorString: "AMQP exchange name cannot be empty when AMQP URL is provided",
		},
		{
			name:        "sync interval too short",
			mutate:      func(c *Config) { c.Agent.SyncInterval = 500 * time.Millisecond },
			wantErr:     true,
			errorString: "invalid sync interval 500ms: must be at least 1 second",
		},
		{
			name:        "sync interval too long",
			mutate:      func(c *Config) { c.Agent.SyncInterval = 25 * time.Hour },
			wantErr:     true,
			errorString: "invalid sync interval 25h0m0s: must be at most 24 hours",
		},
		{
			name:        "download limit too small",
			mutate:      func(c *Config) { c.Agent.DownloadLimit = 0 },
			wantErr:     true,
			errorString: "invalid download limit 0: must be at least 1",
		},
		{
			name:        "download limit too large",
			mutate:      func(c *Config) { c.Agent.DownloadLimit = 20000 },
			wantErr:     true,
			errorString: "invalid download limit 20000: must be at most 10000",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.LogLevel = "verbose" },
			wantErr:     true,
			errorString: "invalid log level 'verbose'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Config.Validate() error = nil, wantErr %v", tt.wantErr)
					return
				}
				if tt.errorString != "" && !strings.Contains(err.Error(), tt.errorString) {
					t.Errorf("Config.Validate() error = %v, want error containing %v", err.Error(), tt.errorString)
				}
			} else if err != nil {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Server.Port != "8081" {
			t.Errorf("Load() Port = %v, want 8081", cfg.Server.Port)
		}
		if cfg.Agent.SyncInterval != 30*time.Second {
			t.Errorf("Load() SyncInterval = %v, want 30s", cfg.Agent.SyncInterval)
		}
		if cfg.Agent.DownloadLimit != 500 {
			t.Errorf("Load() DownloadLimit = %v, want 500", cfg.Agent.DownloadLimit)
		}
		if cfg.AMQP.Exchange != "conti" {
			t.Errorf("Load() AMQP exchange = %v, want conti", cfg.AMQP.Exchange)
		}
	})

	t.Run("environment variables", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		t.Setenv("SERVER_URL", "https://conti.example.com")
		t.Setenv("SYNC_INTERVAL", "45s")
		t.Setenv("DOWNLOAD_LIMIT", "100")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Server.Port != "9090" {
			t.Errorf("Load() Port = %v, want 9090", cfg.Server.Port)
		}
		if cfg.Agent.ServerURL != "https://conti.example.com" {
			t.Errorf("Load() ServerURL = %v, want https://conti.example.com", cfg.Agent.ServerURL)
		}
		if cfg.Agent.SyncInterval != 45*time.Second {
			t.Errorf("Load() SyncInterval = %v, want 45s", cfg.Agent.SyncInterval)
		}
		if cfg.Agent.DownloadLimit != 100 {
			t.Errorf("Load() DownloadLimit = %v, want 100", cfg.Agent.DownloadLimit)
		}
	})
}
