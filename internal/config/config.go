package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.commsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	// Server endpoints of the donor portal backend.
	APIBaseURL string `toml:"api_base_url"`
	SocketURL  string `toml:"socket_url"`

	Realtime  Realtime  `toml:"realtime"`
	Reconcile Reconcile `toml:"reconcile"`
}

// Realtime tunes the connection manager.
type Realtime struct {
	// DialTimeoutSec bounds a single connection attempt.
	DialTimeoutSec int `toml:"dial_timeout_sec"`
	// ReconnectAttempts caps automatic reconnection tries after a drop.
	ReconnectAttempts int `toml:"reconnect_attempts"`
	// ReconnectDelaySec is the fixed delay between automatic attempts.
	ReconnectDelaySec int `toml:"reconnect_delay_sec"`
	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit breaker.
	BreakerThreshold int `toml:"breaker_threshold"`
	// BreakerCooldownSec is how long the breaker stays open after the
	// last failure.
	BreakerCooldownSec int `toml:"breaker_cooldown_sec"`
}

// Reconcile tunes the message reconciler.
type Reconcile struct {
	// PageSize is the REST page size for seed and load-older fetches.
	PageSize int `toml:"page_size"`
	// PollIntervalSec is the periodic reconciliation fetch interval for
	// the active room. Zero disables polling.
	PollIntervalSec int `toml:"poll_interval_sec"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		APIBaseURL: "https://api.lifelink.org",
		SocketURL:  "wss://api.lifelink.org/ws",
		Realtime: Realtime{
			DialTimeoutSec:     10,
			ReconnectAttempts:  5,
			ReconnectDelaySec:  3,
			BreakerThreshold:   5,
			BreakerCooldownSec: 30,
		},
		Reconcile: Reconcile{
			PageSize:        50,
			PollIntervalSec: 30,
		},
	}
}

// Load reads config from the given path, filling unset fields with
// defaults. A missing file yields the defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = def.APIBaseURL
	}
	if cfg.SocketURL == "" {
		cfg.SocketURL = def.SocketURL
	}
	if cfg.Realtime.DialTimeoutSec <= 0 {
		cfg.Realtime.DialTimeoutSec = def.Realtime.DialTimeoutSec
	}
	if cfg.Realtime.ReconnectAttempts <= 0 {
		cfg.Realtime.ReconnectAttempts = def.Realtime.ReconnectAttempts
	}
	if cfg.Realtime.ReconnectDelaySec <= 0 {
		cfg.Realtime.ReconnectDelaySec = def.Realtime.ReconnectDelaySec
	}
	if cfg.Realtime.BreakerThreshold <= 0 {
		cfg.Realtime.BreakerThreshold = def.Realtime.BreakerThreshold
	}
	if cfg.Realtime.BreakerCooldownSec <= 0 {
		cfg.Realtime.BreakerCooldownSec = def.Realtime.BreakerCooldownSec
	}
	if cfg.Reconcile.PageSize <= 0 {
		cfg.Reconcile.PageSize = def.Reconcile.PageSize
	}
}

// DialTimeout returns the dial timeout as a duration.
func (r Realtime) DialTimeout() time.Duration {
	return time.Duration(r.DialTimeoutSec) * time.Second
}

// ReconnectDelay returns the inter-attempt delay as a duration.
func (r Realtime) ReconnectDelay() time.Duration {
	return time.Duration(r.ReconnectDelaySec) * time.Second
}

// BreakerCooldown returns the breaker cool-down window as a duration.
func (r Realtime) BreakerCooldown() time.Duration {
	return time.Duration(r.BreakerCooldownSec) * time.Second
}

// PollInterval returns the polling interval as a duration.
func (r Reconcile) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalSec) * time.Second
}
