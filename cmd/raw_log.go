// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/tcscope/pkg/capture"
	"github.com/Thermoquad/tcscope/pkg/tcproto"
)

var (
	rawLogCapture string
	rawLogHex     bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display protocol frames as they arrive.

Each frame is shown with timestamp, direction, command, sequence number,
status and decoded parameters. Frames that fail to decode are reported with
the reason.

With --capture, every decoded frame is also appended to a capture file that
the replay command can read back.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawLogCapture, "capture", "", "Write decoded frames to a capture file")
	rawLogCmd.Flags().BoolVar(&rawLogHex, "hex", false, "Also print the raw bytes of each frame")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	var recorder *capture.Writer
	if rawLogCapture != "" {
		f, err := os.Create(rawLogCapture)
		if err != nil {
			return fmt.Errorf("failed to create capture file: %w", err)
		}
		defer f.Close()
		if recorder, err = capture.NewWriter(f, connInfo); err != nil {
			return err
		}
	}

	fmt.Printf("tcscope - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if rawLogCapture != "" {
		fmt.Printf("Capture: %s\n", rawLogCapture)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := tcproto.NewDecoder()
	buf := make([]byte, tcproto.MaxPacketSize)

	handle := func(v *tcproto.View, err error) {
		if err != nil {
			fmt.Printf("[ERROR] %v\n", err)
			return
		}
		now := time.Now()
		fmt.Print(tcproto.FormatPacket(*v, now))
		if rawLogHex {
			fmt.Printf("  Raw: %s\n", tcproto.FormatHex(v.Bytes()))
		}
		if recorder != nil {
			if err := recorder.Write(now, capture.DirRx, v.Bytes()); err != nil {
				log.Error().Err(err).Msg("capture write failed")
			}
		}
	}

	for {
		n, err := conn.Read(buf)
		decoder.Decode(buf[:n], handle)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				log.Info().Msg("connection closed")
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
	}
}
