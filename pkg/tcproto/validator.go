// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tcproto

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyUnknownCommand AnomalyType = iota
	AnomalyUnknownStatus
	AnomalyRequestStatus
	AnomalyMissingParam
	AnomalyUnexpectedParam
)

// ValidationError represents a semantic problem in a frame that passed
// Parse. The frame is well formed but not something a peer should send.
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateView checks a parsed frame against the command conventions
// Returns a slice of validation errors (empty if the frame is valid)
func ValidateView(v View) []ValidationError {
	errors := []ValidationError{}

	if !IsKnownOpcode(v.Opcode()) {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownCommand,
			Message: fmt.Sprintf("Unknown opcode %d", v.Opcode()),
			Details: map[string]interface{}{"opcode": v.Opcode()},
		})
		// Nothing more is known about the parameter layout
		return errors
	}

	if v.IsResponse() {
		if !IsKnownStatus(v.Status()) {
			errors = append(errors, ValidationError{
				Type:    AnomalyUnknownStatus,
				Message: fmt.Sprintf("%s response with unknown status %d", FormatCommand(v.Opcode()), v.Status()),
				Details: map[string]interface{}{"status": v.Status()},
			})
		}
		return errors
	}

	if v.Status() != StsOK {
		errors = append(errors, ValidationError{
			Type:    AnomalyRequestStatus,
			Message: fmt.Sprintf("%s request with non-zero status %d", FormatCommand(v.Opcode()), v.Status()),
			Details: map[string]interface{}{"status": v.Status()},
		})
	}

	switch v.Opcode() {
	case CmdGetIProp, CmdGetFProp:
		errors = append(errors, requireName(v)...)
	case CmdSetIProp:
		errors = append(errors, requireName(v)...)
		if v.NInt() != 1 {
			errors = append(errors, paramCount(v, "int", v.NInt(), 1))
		}
	case CmdSetFProp:
		errors = append(errors, requireName(v)...)
		if v.NFloat() != 1 {
			errors = append(errors, paramCount(v, "float", v.NFloat(), 1))
		}
	case CmdPosition, CmdPosLimits, CmdTrapTraj:
		if v.NFloat() == 0 {
			errors = append(errors, ValidationError{
				Type:    AnomalyMissingParam,
				Message: fmt.Sprintf("%s request without float parameters", FormatCommand(v.Opcode())),
				Details: map[string]interface{}{"nfloat": 0},
			})
		}
	case CmdPing, CmdStatus, CmdZeroEncoder, CmdFeedWatchdog:
		if v.NFloat() != 0 || v.NInt() != 0 || v.HasString() {
			errors = append(errors, ValidationError{
				Type:    AnomalyUnexpectedParam,
				Message: fmt.Sprintf("%s request carries parameters", FormatCommand(v.Opcode())),
				Details: map[string]interface{}{"nfloat": v.NFloat(), "nint": v.NInt(), "nstr": v.NStr()},
			})
		}
	}

	return errors
}

func requireName(v View) []ValidationError {
	if s, ok := v.StringBytes(); ok && len(s) > 0 {
		return nil
	}
	return []ValidationError{{
		Type:    AnomalyMissingParam,
		Message: fmt.Sprintf("%s request without property name", FormatCommand(v.Opcode())),
		Details: map[string]interface{}{"nstr": v.NStr()},
	}}
}

func paramCount(v View, kind string, got, want int) ValidationError {
	typ := AnomalyMissingParam
	if got > want {
		typ = AnomalyUnexpectedParam
	}
	return ValidationError{
		Type:    typ,
		Message: fmt.Sprintf("%s request with %d %s parameters (expected %d)", FormatCommand(v.Opcode()), got, kind, want),
		Details: map[string]interface{}{"kind": kind, "count": got, "expected": want},
	}
}
