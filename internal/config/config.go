// Package config loads ~/.livesync/config.toml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
)

// Duration is a time.Duration written as a string like "1500ms" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global config file and per-profile overrides.
type Config struct {
	DefaultProfile string          `toml:"default_profile"`
	Server         ServerConfig    `toml:"server"`
	Transport      TransportConfig `toml:"transport"`
	Presence       PresenceConfig  `toml:"presence"`
	History        HistoryConfig   `toml:"history"`
	Feed           FeedConfig      `toml:"feed"`
	Log            LogConfig       `toml:"log"`
}

type ServerConfig struct {
	APIURL  string `toml:"api_url"`
	PushURL string `toml:"push_url"`
	Token   string `toml:"token"`
	UserID  string `toml:"user_id"`
}

type TransportConfig struct {
	ReconnectBase     Duration `toml:"reconnect_base"`
	ReconnectMax      Duration `toml:"reconnect_max"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
}

type PresenceConfig struct {
	Debounce      Duration `toml:"debounce"`
	StopTimeout   Duration `toml:"stop_timeout"`
	RemoteTimeout Duration `toml:"remote_timeout"`
}

type HistoryConfig struct {
	PageSize int `toml:"page_size"`
}

type FeedConfig struct {
	Timezone string `toml:"timezone"`
	PageSize int    `toml:"page_size"`
}

type LogConfig struct {
	Level zapcore.Level `toml:"level"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			ReconnectBase:     Duration{time.Second},
			ReconnectMax:      Duration{30 * time.Second},
			HeartbeatInterval: Duration{25 * time.Second},
		},
		Presence: PresenceConfig{
			Debounce:      Duration{2 * time.Second},
			StopTimeout:   Duration{2 * time.Second},
			RemoteTimeout: Duration{3 * time.Second},
		},
		History: HistoryConfig{PageSize: 50},
		Feed:    FeedConfig{PageSize: 50},
		Log:     LogConfig{Level: zapcore.InfoLevel},
	}
}

// Load decodes each existing file in order on top of Default, so later
// files override earlier ones key by key. Missing files are skipped.
func Load(paths ...string) (*Config, error) {
	cfg := Default()
	for _, p := range paths {
		if _, err := toml.DecodeFile(p, cfg); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
	}
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

// Location returns the time zone used to bucket notifications by day.
func (c *Config) Location() (*time.Location, error) {
	if c.Feed.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Feed.Timezone)
}

// Validate reports every problem that would stop the client from
// connecting.
func (c *Config) Validate() error {
	var errs error
	if err := checkURL("server.api_url", c.Server.APIURL, "http", "https"); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := checkURL("server.push_url", c.Server.PushURL, "ws", "wss"); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.Server.UserID == "" {
		errs = multierr.Append(errs, errors.New("server.user_id is required"))
	}
	if c.Transport.ReconnectBase.Duration <= 0 {
		errs = multierr.Append(errs, errors.New("transport.reconnect_base must be positive"))
	}
	if c.Transport.ReconnectMax.Duration < c.Transport.ReconnectBase.Duration {
		errs = multierr.Append(errs, errors.New("transport.reconnect_max must not be below reconnect_base"))
	}
	if c.History.PageSize <= 0 {
		errs = multierr.Append(errs, errors.New("history.page_size must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("feed.timezone: %w", err))
	}
	return errs
}

func checkURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s: scheme %q not one of %v", key, u.Scheme, schemes)
}
