// Package config resolves the client's settings: built-in defaults, an
// optional YAML file, and per-channel endpoint overrides from the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/shadowscale/internal/transport"
)

// Channel names a stream the simulation serves.
type Channel string

const (
	ChannelSnapshot Channel = "snapshot"
	ChannelCommand  Channel = "command"
	ChannelLog      Channel = "log"
)

// Channels lists every channel in port order.
var Channels = []Channel{ChannelSnapshot, ChannelCommand, ChannelLog}

// DefaultHost is used for every channel unless overridden.
const DefaultHost = "127.0.0.1"

var defaultPorts = map[Channel]int{
	ChannelSnapshot: 41000,
	ChannelCommand:  41001,
	ChannelLog:      41002,
}

// Endpoint is a host and port pair.
type Endpoint struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// DefaultEndpoint returns the built-in endpoint for ch.
func DefaultEndpoint(ch Channel) Endpoint {
	return Endpoint{Host: DefaultHost, Port: defaultPorts[ch]}
}

// Config holds every tunable the client reads at startup. Fields tagged
// "live" are re-applied when the file changes.
type Config struct {
	HTTPAddr          string               `yaml:"http_addr"`
	DBPath            string               `yaml:"db_path"`
	LogLevel          string               `yaml:"log_level"` // live
	TickInterval      time.Duration        `yaml:"tick_interval"`
	ReconnectInterval time.Duration        `yaml:"reconnect_interval"` // live
	MaxFrameSize      int                  `yaml:"max_frame_size"`
	HistorySize       int                  `yaml:"history_size"`
	LogCapacity       int                  `yaml:"log_capacity"`
	TileScale         float64              `yaml:"tile_scale"`
	ForwardLogs       bool                 `yaml:"forward_logs"`
	RateLimit         float64              `yaml:"rate_limit"` // requests per second per client
	RateBurst         int                  `yaml:"rate_burst"`
	Endpoints         map[Channel]Endpoint `yaml:"endpoints"`
}

// Default returns the built-in configuration.
func Default() Config {
	eps := make(map[Channel]Endpoint, len(Channels))
	for _, ch := range Channels {
		eps[ch] = DefaultEndpoint(ch)
	}
	return Config{
		HTTPAddr:          ":8087",
		DBPath:            "data/shadowscale.db",
		LogLevel:          "info",
		TickInterval:      100 * time.Millisecond,
		ReconnectInterval: 2 * time.Second,
		MaxFrameSize:      transport.DefaultMaxFrameSize,
		HistorySize:       32,
		LogCapacity:       64,
		TileScale:         1.0,
		ForwardLogs:       true,
		RateLimit:         20,
		RateBurst:         40,
		Endpoints:         eps,
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
// Environment overrides are applied last in both cases.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	d := Default()
	if c.HTTPAddr == "" {
		c.HTTPAddr = d.HTTPAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.LogCapacity <= 0 {
		c.LogCapacity = d.LogCapacity
	}
	if c.TileScale <= 0 {
		c.TileScale = d.TileScale
	}
	if c.RateLimit <= 0 {
		c.RateLimit = d.RateLimit
	}
	if c.RateBurst <= 0 {
		c.RateBurst = d.RateBurst
	}
	if c.Endpoints == nil {
		c.Endpoints = make(map[Channel]Endpoint, len(Channels))
	}
	for _, ch := range Channels {
		ep := c.Endpoints[ch]
		def := DefaultEndpoint(ch)
		if ep.Host == "" {
			ep.Host = def.Host
		}
		if ep.Port == 0 {
			ep.Port = def.Port
		}
		c.Endpoints[ch] = ep
	}
}

// Validate rejects settings that cannot be used.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	for ch, ep := range c.Endpoints {
		if _, ok := defaultPorts[ch]; !ok {
			return fmt.Errorf("endpoints: unknown channel %q", ch)
		}
		if ep.Port <= 0 || ep.Port > 65535 {
			return fmt.Errorf("endpoints.%s: port %d out of range", ch, ep.Port)
		}
	}
	return nil
}

// Endpoint returns the resolved endpoint for ch.
func (c Config) Endpoint(ch Channel) Endpoint {
	if ep, ok := c.Endpoints[ch]; ok {
		return ep
	}
	return DefaultEndpoint(ch)
}

// ApplyEnv overrides endpoints from SHADOWSCALE_<CHANNEL>_HOST and
// SHADOWSCALE_<CHANNEL>_PORT. A port that does not parse as 1..65535
// leaves the current value in place.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	for _, ch := range Channels {
		ep := c.Endpoint(ch)
		prefix := "SHADOWSCALE_" + strings.ToUpper(string(ch))
		if host, ok := lookup(prefix + "_HOST"); ok && strings.TrimSpace(host) != "" {
			ep.Host = strings.TrimSpace(host)
		}
		if raw, ok := lookup(prefix + "_PORT"); ok {
			port, err := parsePort(raw)
			if err != nil {
				slog.Debug("ignoring endpoint override", "var", prefix+"_PORT", "value", raw, "error", err)
			} else {
				ep.Port = port
			}
		}
		c.Endpoints[ch] = ep
	}
}

var errPortRange = errors.New("port out of range")

func parsePort(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > 65535 {
		return 0, errPortRange
	}
	return n, nil
}

// ParseLevel maps a level name onto slog. Names are case-insensitive.
func ParseLevel(name string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
