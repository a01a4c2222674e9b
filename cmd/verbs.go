// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/tcscope/pkg/tclink"
	"github.com/Thermoquad/tcscope/pkg/tcproto"
)

var errUsage = errors.New("usage")

// verb is one request the send, shell and monitor commands can issue.
type verb struct {
	name  string
	args  string
	help  string
	code  uint8
	parse func(args []string) (tcproto.Params, error)
}

var verbs = []verb{
	{"ping", "", "Liveness check", tcproto.CmdPing, noArgs},
	{"status", "", "Robot status (positions, velocities, axis state, error)", tcproto.CmdStatus, noArgs},
	{"getiprop", "NAME", "Read an integer property", tcproto.CmdGetIProp, nameArg},
	{"getfprop", "NAME", "Read a float property", tcproto.CmdGetFProp, nameArg},
	{"setiprop", "NAME VALUE", "Write an integer property", tcproto.CmdSetIProp, setIntArgs},
	{"setfprop", "NAME VALUE", "Write a float property", tcproto.CmdSetFProp, setFloatArgs},
	{"position", "POS...", "Move to positions, one per axis", tcproto.CmdPosition, floatArgs},
	{"poslimits", "POS... VEL...", "Move with velocity feedforward", tcproto.CmdPosLimits, floatArgs},
	{"traptraj", "POS...", "Trapezoidal trajectory to positions", tcproto.CmdTrapTraj, floatArgs},
	{"zeroencoder", "", "Zero the encoders (axes must be idle)", tcproto.CmdZeroEncoder, noArgs},
	{"feedwatchdog", "", "Feed the drive watchdog", tcproto.CmdFeedWatchdog, noArgs},
}

const rawUsage = "raw CODE [f:FLOAT|i:INT|s:TEXT]..."

func findVerb(name string) (verb, bool) {
	for _, v := range verbs {
		if strings.EqualFold(v.name, name) {
			return v, true
		}
	}
	return verb{}, false
}

// verbUsage lists the verbs, one per line.
func verbUsage() string {
	var b strings.Builder
	for _, v := range verbs {
		fmt.Fprintf(&b, "  %-28s %s\n", strings.TrimSpace(v.name+" "+v.args), v.help)
	}
	fmt.Fprintf(&b, "  %-28s %s\n", rawUsage, "Any opcode with typed parameters")
	return b.String()
}

// parseVerb turns a verb and its arguments into an opcode and parameters.
func parseVerb(args []string) (uint8, tcproto.Params, error) {
	if len(args) == 0 {
		return 0, tcproto.Params{}, fmt.Errorf("%w: missing command", errUsage)
	}
	if strings.EqualFold(args[0], "raw") {
		return parseRaw(args[1:])
	}
	v, ok := findVerb(args[0])
	if !ok {
		return 0, tcproto.Params{}, fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	params, err := v.parse(args[1:])
	if err != nil {
		return 0, tcproto.Params{}, fmt.Errorf("%s %s: %w", v.name, v.args, err)
	}
	return v.code, params, nil
}

func noArgs(args []string) (tcproto.Params, error) {
	if len(args) != 0 {
		return tcproto.Params{}, fmt.Errorf("%w: takes no arguments", errUsage)
	}
	return tcproto.Params{}, nil
}

func nameArg(args []string) (tcproto.Params, error) {
	if len(args) != 1 {
		return tcproto.Params{}, fmt.Errorf("%w: expected a property name", errUsage)
	}
	return tcproto.Params{}.WithString(args[0]), nil
}

func setIntArgs(args []string) (tcproto.Params, error) {
	if len(args) != 2 {
		return tcproto.Params{}, fmt.Errorf("%w: expected a name and a value", errUsage)
	}
	n, err := parseInt32(args[1])
	if err != nil {
		return tcproto.Params{}, err
	}
	return tcproto.Params{Ints: []int32{n}}.WithString(args[0]), nil
}

func setFloatArgs(args []string) (tcproto.Params, error) {
	if len(args) != 2 {
		return tcproto.Params{}, fmt.Errorf("%w: expected a name and a value", errUsage)
	}
	f, err := parseFloat32(args[1])
	if err != nil {
		return tcproto.Params{}, err
	}
	return tcproto.Params{Floats: []float32{f}}.WithString(args[0]), nil
}

func floatArgs(args []string) (tcproto.Params, error) {
	if len(args) == 0 {
		return tcproto.Params{}, fmt.Errorf("%w: expected at least one value", errUsage)
	}
	floats := make([]float32, len(args))
	for i, a := range args {
		f, err := parseFloat32(a)
		if err != nil {
			return tcproto.Params{}, err
		}
		floats[i] = f
	}
	return tcproto.Params{Floats: floats}, nil
}

// parseRaw reads an opcode (name or number) and typed parameters. Floats
// and ints may be given in any order; they are sent floats first.
func parseRaw(args []string) (uint8, tcproto.Params, error) {
	if len(args) == 0 {
		return 0, tcproto.Params{}, fmt.Errorf("%w: %s", errUsage, rawUsage)
	}
	code, err := parseOpcode(args[0])
	if err != nil {
		return 0, tcproto.Params{}, err
	}

	var params tcproto.Params
	for _, a := range args[1:] {
		kind, value, ok := strings.Cut(a, ":")
		if !ok {
			return 0, tcproto.Params{}, fmt.Errorf("%w: parameter %q needs a f:, i: or s: prefix", errUsage, a)
		}
		switch kind {
		case "f":
			f, err := parseFloat32(value)
			if err != nil {
				return 0, tcproto.Params{}, err
			}
			params.Floats = append(params.Floats, f)
		case "i":
			n, err := parseInt32(value)
			if err != nil {
				return 0, tcproto.Params{}, err
			}
			params.Ints = append(params.Ints, n)
		case "s":
			if params.HasStr {
				return 0, tcproto.Params{}, fmt.Errorf("%w: only one string parameter", errUsage)
			}
			params = params.WithString(value)
		default:
			return 0, tcproto.Params{}, fmt.Errorf("%w: unknown parameter type %q", errUsage, kind)
		}
	}
	return code, params, nil
}

func parseOpcode(s string) (uint8, error) {
	if op, ok := tcproto.ParseCommand(s); ok {
		return op, nil
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil || n > tcproto.OpcodeMask {
		return 0, fmt.Errorf("%w: invalid opcode %q", errUsage, s)
	}
	return uint8(n), nil
}

func parseInt32(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid integer %q", errUsage, s)
	}
	return int32(n), nil
}

func parseFloat32(s string) (float32, error) {
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid number %q", errUsage, s)
	}
	return float32(f), nil
}

// runVerb issues one request and prints the response to w. A response with
// an error status is printed before the error is returned.
func runVerb(ctx context.Context, c *tclink.Client, w io.Writer, args []string) error {
	code, params, err := parseVerb(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout())
	defer cancel()

	start := time.Now()
	v, err := c.Request(ctx, code, params)
	rtt := time.Since(start)
	if v.IsZero() {
		return err
	}

	fmt.Fprint(w, tcproto.FormatPacket(v, time.Now()))
	fmt.Fprintf(w, "  RTT: %v\n", rtt.Round(time.Microsecond))
	return err
}
