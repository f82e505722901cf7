// Package config holds the service configuration and its YAML file loader.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
	"gopkg.in/yaml.v3"
)

// Config contains server configuration values such as listen address, cache
// location and session cookie settings.
type Config struct {
	Addr            string        `yaml:"addr"`
	CacheFile       string        `yaml:"cache_file"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	SessionLifetime time.Duration `yaml:"session_lifetime"`
	CookieName      string        `yaml:"cookie_name"`
	CookieSecure    bool          `yaml:"cookie_secure"`
	Demo            bool          `yaml:"demo"`
	LogLevel        string        `yaml:"log_level"`
	TLSCertFile     string        `yaml:"tls_cert_file"`
	TLSKeyFile      string        `yaml:"tls_key_file"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Addr:            ":3000",
		CacheFile:       filepath.Join("cache", "data-cache.json"),
		CacheTTL:        60 * time.Second,
		SessionLifetime: 24 * time.Hour,
		CookieName:      "sid",
		Demo:            true,
		LogLevel:        "info",
	}
}

// Load reads a YAML file on top of Default. An empty path returns the
// defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	log.Debugf("using config file: %s", path)
	return cfg, nil
}

// Validate reports the first setting that would keep the server from
// starting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("listen address is required")
	}
	if strings.TrimSpace(c.CacheFile) == "" {
		return errors.New("cache file path is required")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", c.CacheTTL)
	}
	if c.SessionLifetime <= 0 {
		return fmt.Errorf("session lifetime must be positive, got %s", c.SessionLifetime)
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return errors.New("cookie name is required")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("tls cert and key must be set together")
	}
	return nil
}

// TLS reports whether a certificate pair is configured.
func (c Config) TLS() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}
