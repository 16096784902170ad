// Package config loads entitystore settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/entitystore/internal/record"
)

// Config holds process settings. CLI flags override the values parsed
// from the environment.
type Config struct {
	// RemoteURL is the backend service base URL. Empty runs local-only.
	RemoteURL string `env:"ENTITYSTORE_REMOTE_URL"`

	// DBPath is the SQLite file holding the local durable snapshots.
	DBPath string `env:"ENTITYSTORE_DB" envDefault:"entitystore.db"`

	// Timeout bounds each remote request.
	Timeout time.Duration `env:"ENTITYSTORE_TIMEOUT" envDefault:"10s"`

	// LocalResources have no remote endpoint and always use DBPath.
	LocalResources []string `env:"ENTITYSTORE_LOCAL_RESOURCES" envSeparator:","`

	// SchemaDir holds CUE resource schemas. Empty disables validation.
	SchemaDir string `env:"ENTITYSTORE_SCHEMA_DIR"`

	// Listen is the address `entitystore serve` binds.
	Listen string `env:"ENTITYSTORE_LISTEN" envDefault:":8080"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse reads the environment without validating, so callers can apply
// overrides before calling Validate.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path must not be empty"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.RemoteURL != "" {
		u, err := url.Parse(c.RemoteURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("remote url: %w", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("remote url %q: scheme must be http or https", c.RemoteURL))
		}
	}
	for _, r := range c.LocalResources {
		if err := record.CheckResource(r); err != nil {
			errs = append(errs, fmt.Errorf("local resource: %w", err))
		}
	}
	return errors.Join(errs...)
}
