// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tcscope/pkg/tcproto"
)

var (
	encodeSeq      int
	encodeResponse bool
	encodeStatus   string
)

var encodeCmd = &cobra.Command{
	Use:   "encode COMMAND [ARGS...]",
	Short: "Print the wire bytes of a frame",
	Long: `Build a frame offline and print it as hex. No connection is opened.

Commands:
` + verbUsage() + `
With --response the frame is built as a response carrying --status.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEncode,
}

var decodeCmd = &cobra.Command{
	Use:   "decode HEX...",
	Short: "Decode frames given as hex",
	Long: `Decode one or more frames given as hex and print them. Whitespace and 0x
prefixes are ignored, so output of encode, raw_log --hex and hex dumps can be
pasted directly. Bytes between frames are skipped like on a live link.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(decodeCmd)
	encodeCmd.Flags().IntVar(&encodeSeq, "seq", 0, "Sequence number (0-255)")
	encodeCmd.Flags().BoolVar(&encodeResponse, "response", false, "Build a response instead of a request")
	encodeCmd.Flags().StringVar(&encodeStatus, "status", "OK", "Response status (name or number)")
}

func runEncode(cmd *cobra.Command, args []string) error {
	if encodeSeq < 0 || encodeSeq > 0xFF {
		return fmt.Errorf("--seq must be between 0 and 255")
	}
	p, err := encodeFrame(args, uint8(encodeSeq), encodeResponse, encodeStatus)
	if err != nil {
		return err
	}
	fmt.Println(tcproto.FormatHex(p.Bytes()))
	return nil
}

// encodeFrame builds the frame described by a verb and its arguments.
func encodeFrame(args []string, seq uint8, response bool, status string) (*tcproto.Packet, error) {
	code, params, err := parseVerb(args)
	if err != nil {
		return nil, err
	}
	if !response {
		return tcproto.BuildRequest(make([]byte, tcproto.MaxPacketSize), code, seq, params)
	}
	sts, err := parseStatusName(status)
	if err != nil {
		return nil, err
	}
	return tcproto.BuildResponse(make([]byte, tcproto.MaxPacketSize), code, seq, sts, params)
}

func parseStatusName(s string) (uint8, error) {
	for sts := uint8(0); sts <= tcproto.StsErrValue; sts++ {
		if strings.EqualFold(tcproto.FormatStatus(sts), s) {
			return sts, nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid status %q", errUsage, s)
	}
	return uint8(n), nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	data, err := parseHex(strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Print(decodeFrames(data, time.Now()))
	return nil
}

// parseHex reads hex bytes, ignoring whitespace, 0x prefixes and commas.
func parseHex(s string) ([]byte, error) {
	var b strings.Builder
	for _, field := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ','
	}) {
		field = strings.TrimPrefix(strings.TrimPrefix(field, "0x"), "0X")
		b.WriteString(field)
	}
	data, err := hex.DecodeString(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex: %v", errUsage, err)
	}
	return data, nil
}

// decodeFrames runs data through a stream decoder and formats every frame
// and frame error found.
func decodeFrames(data []byte, ts time.Time) string {
	var out strings.Builder
	frames := 0
	d := tcproto.NewDecoder()
	d.Decode(data, func(v *tcproto.View, err error) {
		if err != nil {
			fmt.Fprintf(&out, "[ERROR] %v\n", err)
			return
		}
		frames++
		out.WriteString(tcproto.FormatPacket(*v, ts))
		for _, anomaly := range tcproto.ValidateView(*v) {
			fmt.Fprintf(&out, "  Warning: %s\n", anomaly.Message)
		}
	})
	if d.Synchronized() {
		out.WriteString("[ERROR] incomplete frame at end of input\n")
	} else if frames == 0 {
		out.WriteString("[ERROR] no frame found\n")
	}
	return out.String()
}
