// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the optional tcscope TOML file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultBaud        = 115200
	DefaultTimeoutMS   = 1000
	DefaultAxes        = 2
	DefaultWatchdogMS  = 0
	DefaultMQTTPrefix  = "tcscope"
	MaxAxes            = 8
	DefaultListenAddr  = ":8080"
	DefaultListenRoute = "/ws"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the merged file configuration. Command-line flags override
// individual fields after Load.
type Config struct {
	Link LinkConfig `toml:"link"`
	Sim  SimConfig  `toml:"sim"`
	MQTT MQTTConfig `toml:"mqtt"`
}

type LinkConfig struct {
	Port        string `toml:"port"`
	Baud        int    `toml:"baud"`
	URL         string `toml:"url"`
	Username    string `toml:"username"`
	NoSSLVerify bool   `toml:"no_ssl_verify"`
	TimeoutMS   int    `toml:"timeout_ms"`
}

// Timeout returns the request timeout as a duration.
func (c LinkConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// SimConfig seeds the simulated peer.
type SimConfig struct {
	Axes       int                `toml:"axes"`
	WatchdogMS int                `toml:"watchdog_ms"`
	Listen     string             `toml:"listen"`
	IntProps   map[string]int32   `toml:"int_props"`
	FloatProps map[string]float32 `toml:"float_props"`
}

// Watchdog returns the watchdog period, zero when disabled.
func (c SimConfig) Watchdog() time.Duration {
	return time.Duration(c.WatchdogMS) * time.Millisecond
}

type MQTTConfig struct {
	Broker   string `toml:"broker"`
	Prefix   string `toml:"prefix"`
	ClientID string `toml:"client_id"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Link: LinkConfig{
			Baud:      DefaultBaud,
			TimeoutMS: DefaultTimeoutMS,
		},
		Sim: SimConfig{
			Axes:       DefaultAxes,
			WatchdogMS: DefaultWatchdogMS,
			Listen:     DefaultListenAddr,
			IntProps:   map[string]int32{},
			FloatProps: map[string]float32{},
		},
		MQTT: MQTTConfig{
			Prefix: DefaultMQTTPrefix,
		},
	}
}

// Load reads path over the defaults and validates the result. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}

	// Explicit zeros in the file fall back to defaults
	if cfg.Link.Baud == 0 {
		cfg.Link.Baud = DefaultBaud
	}
	if cfg.Link.TimeoutMS == 0 {
		cfg.Link.TimeoutMS = DefaultTimeoutMS
	}
	if cfg.Sim.Axes == 0 {
		cfg.Sim.Axes = DefaultAxes
	}
	if strings.TrimSpace(cfg.MQTT.Prefix) == "" {
		cfg.MQTT.Prefix = DefaultMQTTPrefix
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.Link.Port != "" && cfg.Link.URL != "" {
		return fmt.Errorf("%w: link.port and link.url are mutually exclusive", ErrInvalid)
	}
	if cfg.Link.Baud < 0 {
		return fmt.Errorf("%w: link.baud must be positive", ErrInvalid)
	}
	if cfg.Link.TimeoutMS < 0 {
		return fmt.Errorf("%w: link.timeout_ms must be positive", ErrInvalid)
	}
	if cfg.Link.URL != "" {
		if err := validateURL(cfg.Link.URL, "ws", "wss"); err != nil {
			return fmt.Errorf("%w: link.url: %v", ErrInvalid, err)
		}
	}
	if cfg.Sim.Axes < 1 || cfg.Sim.Axes > MaxAxes {
		return fmt.Errorf("%w: sim.axes must be between 1 and %d", ErrInvalid, MaxAxes)
	}
	if cfg.Sim.WatchdogMS < 0 {
		return fmt.Errorf("%w: sim.watchdog_ms must not be negative", ErrInvalid)
	}
	for name := range cfg.Sim.IntProps {
		if err := validatePropName(name); err != nil {
			return fmt.Errorf("%w: sim.int_props: %v", ErrInvalid, err)
		}
	}
	for name := range cfg.Sim.FloatProps {
		if err := validatePropName(name); err != nil {
			return fmt.Errorf("%w: sim.float_props: %v", ErrInvalid, err)
		}
	}
	if cfg.MQTT.Broker != "" {
		if err := validateURL(cfg.MQTT.Broker, "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss"); err != nil {
			return fmt.Errorf("%w: mqtt.broker: %v", ErrInvalid, err)
		}
	}
	if strings.ContainsAny(cfg.MQTT.Prefix, "+#") {
		return fmt.Errorf("%w: mqtt.prefix must not contain wildcards", ErrInvalid)
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}

// Property names travel as the string parameter, so they must fit one
// frame next to a value and contain no NUL.
func validatePropName(name string) error {
	if name == "" {
		return errors.New("empty property name")
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("property %q contains NUL", name)
	}
	if len(name) > 110 {
		return fmt.Errorf("property %q is too long", name)
	}
	return nil
}
