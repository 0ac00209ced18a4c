package model

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon configuration, loaded from a YAML file.
type Config struct {
	Listen struct {
		Host string `mapstructure:"host" yaml:"host"`
		Port int    `mapstructure:"port" yaml:"port"`
	} `mapstructure:"listen" yaml:"listen"`
	Auth struct {
		// Token authenticates every API request. Empty means a random
		// token is generated on startup and printed once.
		Token string `mapstructure:"token" yaml:"token"`
	} `mapstructure:"auth" yaml:"auth"`
	Scan struct {
		NmapPath string        `mapstructure:"nmap_path" yaml:"nmap_path"`
		Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	} `mapstructure:"scan" yaml:"scan"`
	Task struct {
		SyncTimeout   time.Duration `mapstructure:"sync_timeout" yaml:"sync_timeout"`
		MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	} `mapstructure:"task" yaml:"task"`
	Store struct {
		Path string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"store" yaml:"store"`
	Cleanup struct {
		Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
		Schedule  string `mapstructure:"schedule" yaml:"schedule"`
		Retention string `mapstructure:"retention" yaml:"retention"`
	} `mapstructure:"cleanup" yaml:"cleanup"`
	Verbose bool `mapstructure:"verbose" yaml:"verbose"`
}

// DefaultConfig mirrors the documented defaults of the daemon.
func DefaultConfig() Config {
	var c Config
	c.Listen.Host = "0.0.0.0"
	c.Listen.Port = 3004
	c.Scan.NmapPath = "nmap"
	c.Scan.Timeout = 30 * time.Minute
	c.Task.SyncTimeout = 30 * time.Second
	c.Task.MaxConcurrent = 10
	c.Store.Path = "scantaskd.db"
	c.Cleanup.Enabled = true
	c.Cleanup.Schedule = "0 3 * * *"
	c.Cleanup.Retention = "7d"
	return c
}

// LoadConfig reads path (empty means defaults only) and validates the
// result. Unknown keys are ignored, missing keys fall back to defaults.
func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetDefault("listen.host", def.Listen.Host)
	v.SetDefault("listen.port", def.Listen.Port)
	v.SetDefault("auth.token", "")
	v.SetDefault("scan.nmap_path", def.Scan.NmapPath)
	v.SetDefault("scan.timeout", def.Scan.Timeout)
	v.SetDefault("task.sync_timeout", def.Task.SyncTimeout)
	v.SetDefault("task.max_concurrent", def.Task.MaxConcurrent)
	v.SetDefault("store.path", def.Store.Path)
	v.SetDefault("cleanup.enabled", def.Cleanup.Enabled)
	v.SetDefault("cleanup.schedule", def.Cleanup.Schedule)
	v.SetDefault("cleanup.retention", def.Cleanup.Retention)
	v.SetDefault("verbose", false)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Task.MaxConcurrent <= 0 {
		return fmt.Errorf("task.max_concurrent must be positive, got %d", c.Task.MaxConcurrent)
	}
	if c.Task.SyncTimeout <= 0 {
		return fmt.Errorf("task.sync_timeout must be positive, got %s", c.Task.SyncTimeout)
	}
	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan.timeout must be positive, got %s", c.Scan.Timeout)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Cleanup.Enabled {
		if err := ValidateCron(c.Cleanup.Schedule); err != nil {
			return fmt.Errorf("cleanup.schedule: %w", err)
		}
		if _, err := ParseRetention(c.Cleanup.Retention); err != nil {
			return fmt.Errorf("cleanup.retention: %w", err)
		}
	}
	return nil
}

// GenerateToken returns a random URL-safe API token.
func GenerateToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
