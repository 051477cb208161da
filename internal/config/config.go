// Package config loads the taskforms configuration from a YAML file and
// TASKFORMS_* environment overrides. Environment values win over the file,
// the file wins over defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-taskforms/pkg/existence/natscheck"
	"github.com/goliatone/go-taskforms/pkg/messages"
)

// Environment variables read by Load.
const (
	EnvExternalRenderer = "TASKFORMS_EXTERNAL_RENDERER"
	EnvLogLevel         = "TASKFORMS_LOG_LEVEL"
	EnvCheckTimeout     = "TASKFORMS_CHECK_TIMEOUT"
	EnvNATSURL          = "TASKFORMS_NATS_URL"
)

// Config is the process-wide configuration.
type Config struct {
	// ExternalRenderer delegates rendering to the process engine's own form
	// renderer instead of building forms locally.
	ExternalRenderer    bool              `yaml:"externalRenderer"`
	ExternalRendererURL string            `yaml:"externalRendererURL"`
	Locale              string            `yaml:"locale"`
	CheckTimeout        time.Duration     `yaml:"checkTimeout"`
	LogLevel            string            `yaml:"logLevel"`
	Development         bool              `yaml:"development"`
	// Scripts maps lookup components to script files.
	Scripts map[string]string `yaml:"scripts"`
	NATS    NATS              `yaml:"nats"`
}

// NATS configures the remote existence checker. An empty URL disables it.
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Locale:       messages.DefaultLocale,
		CheckTimeout: natscheck.DefaultTimeout,
		LogLevel:     "info",
		NATS:         NATS{Subject: natscheck.DefaultSubject},
	}
}

// Load reads path (optional) over the defaults and applies environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if raw, ok := lookup(EnvExternalRenderer); ok && strings.TrimSpace(raw) != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvExternalRenderer, err)
		}
		c.ExternalRenderer = enabled
	}
	if raw, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(raw) != "" {
		c.LogLevel = strings.TrimSpace(raw)
	}
	if raw, ok := lookup(EnvCheckTimeout); ok && strings.TrimSpace(raw) != "" {
		timeout, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvCheckTimeout, err)
		}
		c.CheckTimeout = timeout
	}
	if raw, ok := lookup(EnvNATSURL); ok {
		c.NATS.URL = strings.TrimSpace(raw)
	}
	return nil
}

// Validate rejects unusable values.
func (c Config) Validate() error {
	var errs []error
	if c.CheckTimeout < 0 {
		errs = append(errs, fmt.Errorf("config: checkTimeout must not be negative, got %s", c.CheckTimeout))
	}
	if c.NATS.URL != "" && strings.TrimSpace(c.NATS.Subject) == "" {
		errs = append(errs, errors.New("config: nats.subject is required when nats.url is set"))
	}
	for component, path := range c.Scripts {
		if strings.TrimSpace(component) == "" || strings.TrimSpace(path) == "" {
			errs = append(errs, fmt.Errorf("config: script entry %q -> %q is incomplete", component, path))
		}
	}
	return errors.Join(errs...)
}
