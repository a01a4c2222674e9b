// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tcscope/pkg/tcproto"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid frame",
	Long: `Wait for a valid frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
protocol frame. It ignores invalid bytes and waits for a complete, valid frame
(passing seal, length and CRC checks).

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("tcscope - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	packetChan := make(chan tcproto.View, 1)
	errChan := make(chan error, 1)

	go func() {
		decoder := tcproto.NewDecoder()
		buf := make([]byte, tcproto.MaxPacketSize)
		frameErrors := 0
		for {
			n, err := conn.Read(buf)
			for i := 0; i < n; i++ {
				v, decodeErr := decoder.DecodeByte(buf[i])
				for decodeErr != nil {
					frameErrors++
					v, decodeErr = decoder.Next()
				}
				if v != nil {
					if frameErrors > 0 {
						fmt.Printf("(dropped %d bad frames before sync)\n", frameErrors)
					}
					packetChan <- *v
					return
				}
			}
			if err != nil {
				errChan <- err
				return
			}
		}
	}()

	select {
	case v := <-packetChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Command: %s (0x%02X)\n", tcproto.FormatCommand(v.Cmd()), v.Cmd())
		fmt.Printf("  Seq: %d\n", v.Seq())
		fmt.Printf("  Status: %s\n", tcproto.FormatStatus(v.Status()))
		fmt.Printf("  Length: %d bytes\n", v.Size())
		fmt.Printf("  CRC: 0x%04X\n", v.CRC())
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
