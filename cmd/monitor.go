// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/tcscope/pkg/tclink"
	"github.com/Thermoquad/tcscope/pkg/tcproto"
)

const eventBuffer = 256

var (
	showAll       bool
	statsInterval int
	useTUI        bool
	pollMS        int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Detect and analyze malformed frames and errors",
	Long: `Track frame errors, malformed data and protocol anomalies with statistics.

This command validates each frame and detects:
  - Seal, length, CRC and string terminator errors
  - Unknown opcodes and status codes, requests carrying a status
  - Missing or unexpected parameters for known commands
  - Responses with an error status
  - Statistics and trends (frame rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid frames too.

With --poll-ms the drive is asked for its STATUS periodically and the latest
positions, velocities and axis state are shown. In the terminal UI, requests
can be typed at the prompt (for example "getfprop vel_limit").`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
	monitorCmd.Flags().IntVar(&pollMS, "poll-ms", 0, "STATUS poll interval in milliseconds (0 disables)")
}

// frameEvent is one decoded frame or frame error seen on the link.
type frameEvent struct {
	at               time.Time
	view             *tcproto.View
	err              error
	validationErrors []tcproto.ValidationError
}

// eventTap collects link events without blocking the link reader. Events
// that do not fit the buffer are counted and dropped.
type eventTap struct {
	events  chan frameEvent
	dropped atomic.Uint64
}

func newEventTap() *eventTap {
	return &eventTap{events: make(chan frameEvent, eventBuffer)}
}

func (t *eventTap) observe(v *tcproto.View, err error) {
	ev := frameEvent{at: time.Now(), view: v, err: err}
	if err == nil {
		ev.validationErrors = tcproto.ValidateView(*v)
	}
	select {
	case t.events <- ev:
	default:
		t.dropped.Add(1)
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if statsInterval < 1 {
		return fmt.Errorf("--stats-interval must be at least 1 second")
	}
	tap := newEventTap()
	client, connInfo, err := openClient(tclink.WithObserver(tap.observe))
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if pollMS > 0 {
		go pollStatus(ctx, client, time.Duration(pollMS)*time.Millisecond)
	}

	if useTUI {
		return runTUIMode(ctx, client, tap, connInfo)
	}
	return runTextMode(ctx, client, tap, connInfo)
}

// pollStatus requests STATUS on every tick. The responses reach the
// monitor through the link observer.
func pollStatus(ctx context.Context, client *tclink.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, requestTimeout())
			if _, err := client.Status(reqCtx); err != nil {
				log.Debug().Err(err).Msg("status poll failed")
			}
			cancel()
		}
	}
}

// isClosedByPeer reports whether a link ended because the other side
// closed the stream.
func isClosedByPeer(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed)
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(ev frameEvent) {
	timestamp := ev.at.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, ev.err)
	fmt.Printf("  >>> FRAME DROPPED <<<\n\n")
}

// printStatusError prints a response that carried an error status
func printStatusError(ev frameEvent) {
	v := *ev.view
	timestamp := ev.at.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mSTATUS ERROR:\033[0m %s seq=%d sts=%s\n\n",
		timestamp, tcproto.FormatCommand(v.Opcode()), v.Seq(), tcproto.FormatStatus(v.Status()))
}

// printValidationErrors prints validation errors for a frame
func printValidationErrors(ev frameEvent) {
	v := *ev.view
	timestamp := ev.at.Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X)\n", timestamp, tcproto.FormatCommand(v.Opcode()), v.Cmd())
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")

	for i, err := range ev.validationErrors {
		switch err.Type {
		case tcproto.AnomalyUnknownCommand, tcproto.AnomalyUnknownStatus:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
		case tcproto.AnomalyMissingParam, tcproto.AnomalyUnexpectedParam:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if count, ok := err.Details["count"].(int); ok {
				if expected, ok := err.Details["expected"].(int); ok {
					fmt.Printf("    %v: count=%d, expected=%d\n", err.Details["kind"], count, expected)
				}
			}
		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	fmt.Printf("  seq=%d nfloat=%d nint=%d nstr=%d\n", v.Seq(), v.NFloat(), v.NInt(), v.NStr())
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// runTUIMode runs the monitor in the terminal UI
func runTUIMode(ctx context.Context, client *tclink.Client, tap *eventTap, connInfo string) error {
	m := initialModel(ctx, client, connInfo, statsInterval, showAll)
	p := tea.NewProgram(m, tea.WithContext(ctx))

	// Forward link events to the program
	go func() {
		synchronized := false
		skipped := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				p.Send(linkClosedMsg{err: client.Err()})
				return
			case ev := <-tap.events:
				if ev.err != nil && !synchronized {
					skipped++
					continue
				}
				if ev.err == nil && !synchronized {
					synchronized = true
					p.Send(syncMsg{skippedFrames: skipped})
				}
				p.Send(frameMsg(ev))
			}
		}
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runTextMode runs the monitor with plain text output
func runTextMode(ctx context.Context, client *tclink.Client, tap *eventTap, connInfo string) error {
	fmt.Printf("tcscope - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := tcproto.NewStatistics()

	// Sync tracking - ignore decode errors until first valid frame
	synchronized := false
	skippedFrames := 0

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			fmt.Print(stats.String())
			return nil

		case <-client.Done():
			fmt.Println()
			fmt.Print(stats.String())
			if err := client.Err(); err != nil && !isClosedByPeer(err) {
				return err
			}
			return nil

		case ev := <-tap.events:
			if ev.err != nil {
				if !synchronized {
					skippedFrames++
					continue
				}
				stats.Update(tcproto.View{}, ev.err, nil)
				printDecodeError(ev)
				continue
			}

			if !synchronized {
				synchronized = true
				if skippedFrames > 0 {
					fmt.Printf("[SYNC] Synchronized after dropping %d bad frames\n\n", skippedFrames)
				} else {
					fmt.Printf("[SYNC] Synchronized\n\n")
				}
			}

			v := *ev.view
			stats.Update(v, nil, ev.validationErrors)

			switch {
			case len(ev.validationErrors) > 0:
				printValidationErrors(ev)
			case v.IsResponse() && v.Status() != tcproto.StsOK:
				printStatusError(ev)
			case showAll:
				fmt.Print(tcproto.FormatPacket(v, ev.at))
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			if n := tap.dropped.Load(); n > 0 {
				fmt.Printf("Dropped events:  %8d\n", n)
			}
			fmt.Println()
		}
	}
}
