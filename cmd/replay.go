// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tcscope/pkg/capture"
	"github.com/Thermoquad/tcscope/pkg/tcproto"
)

var (
	replayStats bool
	replayHex   bool
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Decode and display a capture file",
	Long: `Read a capture file written by raw_log --capture and display every frame
as it was logged, with its original timestamp and direction.

Frames are decoded again, so a capture taken with an older build is checked
against the current codec.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayStats, "stats", false, "Print statistics after the last frame")
	replayCmd.Flags().BoolVar(&replayHex, "hex", false, "Also print the raw bytes of each frame")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	r, err := capture.NewReader(f)
	if err != nil {
		return err
	}
	hdr := r.Header()
	fmt.Printf("tcscope - Replay\n")
	fmt.Printf("Capture: %s (version %d)\n", args[0], hdr.Version)
	fmt.Printf("Source: %s\n", hdr.Source)
	fmt.Printf("Started: %s\n\n", hdr.Started.Format("2006-01-02 15:04:05.000"))

	return replayRecords(r, os.Stdout)
}

// replayRecords prints every record of r to w.
func replayRecords(r *capture.Reader, w io.Writer) error {
	stats := tcproto.NewStatistics()
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		v, err := tcproto.Parse(rec.Frame)
		if err != nil {
			stats.Update(tcproto.View{}, err, nil)
			fmt.Fprintf(w, "[%s] %s [ERROR] %v\n", rec.Time.Format("15:04:05.000"), rec.Direction, err)
			continue
		}
		stats.Update(v, nil, tcproto.ValidateView(v))
		fmt.Fprintf(w, "%s ", rec.Direction)
		fmt.Fprint(w, tcproto.FormatPacket(v, rec.Time))
		if replayHex {
			fmt.Fprintf(w, "  Raw: %s\n", tcproto.FormatHex(rec.Frame))
		}
	}

	if replayStats {
		fmt.Fprintln(w)
		fmt.Fprint(w, stats.String())
	}
	return nil
}
