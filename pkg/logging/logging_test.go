// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, true},
		{" WARN ", zerolog.WarnLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		lvl, ok := ParseLevel(tt.raw)
		require.Equal(t, tt.ok, ok, tt.raw)
		require.Equal(t, tt.want, lvl, tt.raw)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "1")

	cfg := DefaultConfig(ProfileRuntime)
	require.Equal(t, zerolog.InfoLevel, cfg.Level)
	require.True(t, cfg.Timestamp)

	ApplyEnvOverrides(&cfg)
	require.Equal(t, zerolog.ErrorLevel, cfg.Level)
	require.False(t, cfg.Timestamp)
	require.True(t, cfg.NoColor)
}

func TestNew_WritesConsoleLines(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: zerolog.InfoLevel, NoColor: true, Out: &buf})

	logger.Debug().Msg("hidden")
	logger.Info().Str("port", "/dev/ttyACM0").Msg("connected")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "connected")
	require.Contains(t, out, "port=/dev/ttyACM0")
}
