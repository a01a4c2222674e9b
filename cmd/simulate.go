// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/tcscope/pkg/config"
	"github.com/Thermoquad/tcscope/pkg/tcsim"
)

var (
	simListen     string
	simAxes       int
	simWatchdogMS int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated drive",
	Long: `Answer requests the way the drive firmware does, without hardware.

The simulated drive keeps a property table, axis state, positions and a
watchdog. It runs on the serial port given with --port (for example one end
of a virtual null-modem pair), or as a WebSocket server with --listen. Every
WebSocket client talks to the same simulated drive.

Property seeds, axis count and watchdog period come from the [sim] section
of the configuration file; --axes and --watchdog-ms override them.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simListen, "listen", "", "Serve WebSocket clients on this address (for example :8080)")
	simulateCmd.Flags().IntVar(&simAxes, "axes", config.DefaultAxes, "Number of axes")
	simulateCmd.Flags().IntVar(&simWatchdogMS, "watchdog-ms", config.DefaultWatchdogMS, "Watchdog period in milliseconds (0 disables)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	simCfg := cfg.Sim
	if cmd.Flags().Changed("axes") {
		simCfg.Axes = simAxes
	}
	if cmd.Flags().Changed("watchdog-ms") {
		simCfg.WatchdogMS = simWatchdogMS
	}
	if cmd.Flags().Changed("listen") {
		simCfg.Listen = simListen
	}
	check := cfg
	check.Sim = simCfg
	if err := config.Validate(check); err != nil {
		return err
	}

	peer := tcsim.NewPeer(simCfg)
	ctx := cmd.Context()

	if cmd.Flags().Changed("listen") || cfg.Link.Port == "" {
		return serveWebSocket(ctx, peer, simCfg.Listen)
	}

	conn, err := OpenSerialConnection(cfg.Link.Port, cfg.Link.Baud)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("tcscope - Simulated drive\n")
	fmt.Printf("Serial: %s @ %d baud, %d axes\n", cfg.Link.Port, cfg.Link.Baud, peer.Axes())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	go func() {
		// Unblock the pending Read on exit
		<-ctx.Done()
		conn.Close()
	}()
	err = peer.Serve(ctx, conn)
	printSimStats(peer)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveWebSocket(ctx context.Context, peer *tcsim.Peer, addr string) error {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(config.DefaultListenRoute, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}
		conn := NewWebSocketConnection(ws)
		defer conn.Close()

		logger := log.With().Str("remote", r.RemoteAddr).Logger()
		logger.Info().Msg("client connected")

		connCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			<-connCtx.Done()
			conn.Close()
		}()
		if err := peer.Serve(connCtx, conn); err != nil && !errors.Is(err, context.Canceled) && !isClosedByPeer(err) {
			logger.Warn().Err(err).Msg("client dropped")
			return
		}
		logger.Info().Msg("client disconnected")
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("tcscope - Simulated drive\n")
	fmt.Printf("WebSocket: ws://%s%s, %d axes\n", addr, config.DefaultListenRoute, peer.Axes())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("websocket server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("websocket server shutdown")
	}
	printSimStats(peer)
	return nil
}

func printSimStats(peer *tcsim.Peer) {
	stats := peer.Statistics()
	fmt.Println()
	fmt.Print(stats.String())
}
