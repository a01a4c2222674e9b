// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tcproto

import (
	"fmt"
	"strings"
	"time"
)

// FormatPacket formats a frame into a human-readable string
func FormatPacket(v View, ts time.Time) string {
	dir := "REQ"
	if v.IsResponse() {
		dir = "RSP"
	}

	result := fmt.Sprintf("[%s] %s %s (0x%02X) seq=%d len=%d crc=0x%04X",
		ts.Format("15:04:05.000"), dir, FormatCommand(v.Opcode()), v.Cmd(), v.Seq(), v.Size(), v.CRC())
	if v.IsResponse() || v.Status() != StsOK {
		result += fmt.Sprintf(" sts=%s", FormatStatus(v.Status()))
	}
	result += "\n"

	return result + FormatParams(v)
}

// FormatCommand returns the human-readable name for an opcode
func FormatCommand(op uint8) string {
	switch op & OpcodeMask {
	case CmdPing:
		return "PING"
	case CmdPosition:
		return "POSITION"
	case CmdPosLimits:
		return "POSLIMITS"
	case CmdTrapTraj:
		return "TRAPTRAJ"
	case CmdZeroEncoder:
		return "ZEROENCODER"
	case CmdStatus:
		return "STATUS"
	case CmdGetIProp:
		return "GETIPROP"
	case CmdGetFProp:
		return "GETFPROP"
	case CmdSetIProp:
		return "SETIPROP"
	case CmdSetFProp:
		return "SETFPROP"
	case CmdFeedWatchdog:
		return "FEEDWATCHDOG"
	default:
		return "UNKNOWN"
	}
}

// ParseCommand maps a command name (case-insensitive) back to its opcode
func ParseCommand(name string) (uint8, bool) {
	for op := uint8(0); op <= OpcodeMask; op++ {
		if IsKnownOpcode(op) && strings.EqualFold(FormatCommand(op), name) {
			return op, true
		}
	}
	return 0, false
}

// FormatStatus returns the human-readable name for a status code
func FormatStatus(sts uint8) string {
	switch sts {
	case StsOK:
		return "OK"
	case StsErrCmd:
		return "ERR_CMD"
	case StsErrState:
		return "ERR_STATE"
	case StsErrParam:
		return "ERR_PARAM"
	case StsErrValue:
		return "ERR_VALUE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", sts)
	}
}

// FormatParams formats the tail parameters, one line per kind
func FormatParams(v View) string {
	if v.NFloat() == 0 && v.NInt() == 0 && !v.HasString() {
		return "  (no parameters)\n"
	}

	var sb strings.Builder
	if v.NFloat() > 0 {
		sb.WriteString("  Floats:")
		for _, f := range v.Floats() {
			fmt.Fprintf(&sb, " %g", f)
		}
		sb.WriteString("\n")
	}
	if v.NInt() > 0 {
		sb.WriteString("  Ints:")
		for _, i := range v.Ints() {
			fmt.Fprintf(&sb, " %d", i)
		}
		sb.WriteString("\n")
	}
	if s, ok := v.StringParam(); ok {
		fmt.Fprintf(&sb, "  String: %q\n", s)
	}
	return sb.String()
}

// FormatHex returns data as space separated hex, 16 bytes per line
func FormatHex(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			if i%16 == 0 {
				sb.WriteString("\n")
			} else {
				sb.WriteString(" ")
			}
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
