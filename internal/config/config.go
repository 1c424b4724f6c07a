// Package config loads the environment configuration recognized by the
// service (spec §6), using envconfig the way helixml/helix configures its
// services — the teacher, a CLI, has no analogous env-driven service config
// to generalize from.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full set of recognized environment options, with the
// defaults from spec §6.
type Config struct {
	Port    int    `envconfig:"PORT" default:"3000"`
	Host    string `envconfig:"HOST" default:"0.0.0.0"`
	UseHTTPS bool  `envconfig:"USE_HTTPS" default:"false"`

	MaxSessions int `envconfig:"MAX_SESSIONS" default:"10"`

	SessionIdleTimeout  time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"300000ms"`
	SessionMaxLifetime  time.Duration `envconfig:"SESSION_MAX_LIFETIME" default:"3600000ms"`
	SessionGCInterval   time.Duration `envconfig:"SESSION_GC_INTERVAL" default:"60000ms"`

	ViewportWidth  int `envconfig:"VIEWPORT_WIDTH" default:"1280"`
	ViewportHeight int `envconfig:"VIEWPORT_HEIGHT" default:"720"`

	Headless bool `envconfig:"HEADLESS" default:"false"`

	CommandTimeout time.Duration `envconfig:"COMMAND_TIMEOUT" default:"30000ms"`
}

// Load reads configuration from the process environment, applying spec §6
// defaults for anything unset.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Scheme returns "https" or "http" for building URLs from UseHTTPS.
func (c *Config) Scheme() string {
	if c.UseHTTPS {
		return "https"
	}
	return "http"
}
