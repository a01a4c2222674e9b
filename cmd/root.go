// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/tcscope/pkg/config"
	"github.com/Thermoquad/tcscope/pkg/logging"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	configPath string
	timeoutMS  int
	logLevel   string

	// cfg is the file configuration with flag overrides applied
	cfg = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "tcscope",
	Short: "Touch robot controller protocol toolkit",
	Long: `tcscope - A CLI tool for talking to and analyzing the touch robot
controller protocol spoken by the motor drive firmware.

Provides commands for frame logging, error detection, single requests, an
interactive shell, a simulated drive, capture replay and an MQTT bridge.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the TCSCOPE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings may also come from a TOML file given with --config. Flags win over
the file.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", config.DefaultBaud, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML configuration file")
	rootCmd.PersistentFlags().IntVar(&timeoutMS, "timeout-ms", config.DefaultTimeoutMS, "Request timeout (milliseconds)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
}

// loadSettings configures logging, reads the config file and lays the
// flags that were set explicitly over it.
func loadSettings(cmd *cobra.Command, args []string) error {
	logging.ConfigureRuntime()
	if logLevel != "" {
		level, ok := logging.ParseLevel(logLevel)
		if !ok {
			return fmt.Errorf("invalid --log-level %q", logLevel)
		}
		logging.SetLevel(level)
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		loaded.Link.Port = portName
		loaded.Link.URL = ""
	}
	if flags.Changed("url") {
		loaded.Link.URL = wsURL
		loaded.Link.Port = ""
	}
	if flags.Changed("baud") {
		loaded.Link.Baud = baudRate
	}
	if flags.Changed("username") {
		loaded.Link.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		loaded.Link.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("timeout-ms") {
		loaded.Link.TimeoutMS = timeoutMS
	}
	if err := config.Validate(loaded); err != nil {
		return err
	}

	cfg = loaded
	log.Debug().Str("config", configPath).Str("port", cfg.Link.Port).Str("url", cfg.Link.URL).Msg("settings loaded")
	return nil
}

// requestTimeout is the per-request deadline from the merged settings.
func requestTimeout() time.Duration {
	if d := cfg.Link.Timeout(); d > 0 {
		return d
	}
	return config.DefaultTimeoutMS * time.Millisecond
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
