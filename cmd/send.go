// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tcscope/pkg/tclink"
)

var sendCmd = &cobra.Command{
	Use:   "send COMMAND [ARGS...]",
	Short: "Send one request and print the response",
	Long: `Send one request to the drive and print the decoded response.

Commands:
` + verbUsage() + `
Exit codes:
  0 - Response received with status OK
  1 - Error status, timeout or usage error
  2 - Connection error`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	// Catch usage errors before touching the port
	if _, _, err := parseVerb(args); err != nil {
		return err
	}

	client, _, err := openClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer client.Close()

	err = runVerb(cmd.Context(), client, os.Stdout, args)
	var statusErr *tclink.StatusError
	if errors.As(err, &statusErr) {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		client.Close()
		os.Exit(1)
	}
	return err
}
