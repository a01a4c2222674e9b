// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// tcscope - Touch robot controller protocol toolkit
//
// A CLI tool for talking to, monitoring and simulating motor drives that
// speak the touch robot controller binary protocol.

package main

import (
	"os"

	"github.com/Thermoquad/tcscope/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
