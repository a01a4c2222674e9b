// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tcscope.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, time.Second, cfg.Link.Timeout())
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
[link]
port = "/dev/ttyACM0"
baud = 921600
timeout_ms = 250

[sim]
axes = 1
watchdog_ms = 500

[sim.int_props]
axis_state = 1

[sim.float_props]
vel_limit = 20.5

[mqtt]
broker = "tcp://localhost:1883"
prefix = "lab"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyACM0", cfg.Link.Port)
	require.Equal(t, 921600, cfg.Link.Baud)
	require.Equal(t, 250*time.Millisecond, cfg.Link.Timeout())
	require.Equal(t, 1, cfg.Sim.Axes)
	require.Equal(t, 500*time.Millisecond, cfg.Sim.Watchdog())
	require.Equal(t, int32(1), cfg.Sim.IntProps["axis_state"])
	require.Equal(t, float32(20.5), cfg.Sim.FloatProps["vel_limit"])
	require.Equal(t, "lab", cfg.MQTT.Prefix)
	require.Equal(t, DefaultListenAddr, cfg.Sim.Listen)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[link]\nurl = \"wss://helios.local/ws\"\n"))
	require.NoError(t, err)
	require.Equal(t, DefaultBaud, cfg.Link.Baud)
	require.Equal(t, DefaultAxes, cfg.Sim.Axes)
	require.Equal(t, DefaultMQTTPrefix, cfg.MQTT.Prefix)
}

func TestLoad_Errors(t *testing.T) {
	tests := map[string]string{
		"unknown key":         "[link]\nspeed = 1\n",
		"port and url":        "[link]\nport = \"/dev/ttyUSB0\"\nurl = \"ws://x/ws\"\n",
		"bad url scheme":      "[link]\nurl = \"http://x/ws\"\n",
		"too many axes":       "[sim]\naxes = 9\n",
		"negative watchdog":   "[sim]\nwatchdog_ms = -1\n",
		"broker without host": "[mqtt]\nbroker = \"tcp://\"\n",
		"wildcard prefix":     "[mqtt]\nprefix = \"lab/#\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_Malformed(t *testing.T) {
	_, err := Load(writeConfig(t, "[link\n"))
	require.Error(t, err)
}
