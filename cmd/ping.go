// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send PING requests and report round-trip times",
	Long: `Send PING requests to the drive and wait for the matching responses.

Responses are matched by sequence number, so frames the drive sends on its
own do not disturb the measurement.

This is useful for verifying:
  - The serial port or WebSocket connection is established
  - HTTP Basic authentication works
  - The drive is answering requests
  - Bidirectional frame flow works

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	client, connInfo, err := openClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer client.Close()

	fmt.Printf("tcscope - Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0
	var minRTT, maxRTT, totalRTT time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(pingTimeout)*time.Second)
		rtt, err := client.Ping(ctx)
		cancel()

		switch {
		case err == nil:
			fmt.Printf("PONG, rtt=%v\n", rtt.Round(time.Microsecond))
			successCount++
			totalRTT += rtt
			if minRTT == 0 || rtt < minRTT {
				minRTT = rtt
			}
			if rtt > maxRTT {
				maxRTT = rtt
			}
		case errors.Is(err, context.DeadlineExceeded):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		default:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n",
			minRTT.Round(time.Microsecond),
			(totalRTT / time.Duration(successCount)).Round(time.Microsecond),
			maxRTT.Round(time.Microsecond))
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
