// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tcproto provides a Go implementation of the touch robot controller
// binary protocol spoken between a host controller and ODrive firmware.
//
// A packet is a fixed 12-byte header followed by a tail of typed parameters:
// single-precision floats, then 32-bit signed integers, then at most one
// NUL-terminated string. The whole frame is sealed with a 4-byte marker and
// protected by a CRC-16 that matches the firmware's implementation bit for bit.
//
// The codec assumes little-endian IEEE-754 binary32 floats on the wire. All
// multi-byte fields are read and written through encoding/binary, never
// through struct layout, so it runs unchanged on strict-alignment targets.
package tcproto

// Seal marker
const (
	Seal0 = 0xA1
	Seal1 = 0x55
	Seal2 = 0xBB
	Seal3 = 0xA2

	Seal = 0xA2BB55A1 // Little endian
)

// SealBytes is the on-wire seal sequence.
var SealBytes = [4]byte{Seal0, Seal1, Seal2, Seal3}

// Packet size limits
const (
	HeaderSize    = 12
	MaxPacketSize = 128
	MaxTailSize   = MaxPacketSize - HeaderSize // 116
	FloatSize     = 4
	IntSize       = 4
)

// Header field offsets
const (
	OffSeal   = 0
	OffCRC    = 4
	OffCmd    = 6
	OffSeq    = 7
	OffStatus = 8
	OffNFloat = 9
	OffNInt   = 10
	OffNStr   = 11
	OffTail   = HeaderSize
)

// CRC-16 configuration (reflected CCITT)
const (
	crcPolynomial = 0x8408
	crcInitial    = 0xFFFF
)

// Command byte layout
const (
	RespBit    = 0x80 // Set on responses
	OpcodeMask = 0x7F
)

// Opcodes (command byte low 7 bits)
const (
	CmdPing         = 0  // Liveness check
	CmdPosition     = 1  // Set motor position
	CmdPosLimits    = 3  // Set position with velocity feedforward
	CmdTrapTraj     = 5  // Trapezoidal trajectory to position
	CmdZeroEncoder  = 7  // Zero the encoder (motors must be idle)
	CmdStatus       = 9  // Return robot status
	CmdGetIProp     = 11 // Get integer property by name
	CmdGetFProp     = 13 // Get float property by name
	CmdSetIProp     = 15 // Set integer property by name
	CmdSetFProp     = 17 // Set float property by name
	CmdFeedWatchdog = 19 // Feed the watchdog
)

// Status codes
const (
	StsOK       = 0 // Command successful
	StsErrCmd   = 1 // Unknown command code
	StsErrState = 2 // Illegal in current state
	StsErrParam = 3 // Bad parameter name/code
	StsErrValue = 4 // Parameter recognized, value out of range
)

// TailSize returns the number of tail bytes for the given parameter counts.
func TailSize(nfloat, nint, nstr int) int {
	return FloatSize*nfloat + IntSize*nint + nstr
}

// Fits reports whether a packet with the given counts fits in MaxPacketSize.
func Fits(nfloat, nint, nstr int) bool {
	if nfloat < 0 || nint < 0 || nstr < 0 {
		return false
	}
	return HeaderSize+TailSize(nfloat, nint, nstr) <= MaxPacketSize
}

// floatOffset returns the byte offset of float i.
func floatOffset(i int) int {
	return OffTail + FloatSize*i
}

// intOffset returns the byte offset of int i given nfloat floats.
func intOffset(nfloat, i int) int {
	return OffTail + FloatSize*nfloat + IntSize*i
}

// stringOffset returns the byte offset of the string region.
func stringOffset(nfloat, nint int) int {
	return OffTail + FloatSize*nfloat + IntSize*nint
}

// IsKnownOpcode reports whether op is one of the defined opcodes.
func IsKnownOpcode(op uint8) bool {
	switch op {
	case CmdPing, CmdPosition, CmdPosLimits, CmdTrapTraj, CmdZeroEncoder,
		CmdStatus, CmdGetIProp, CmdGetFProp, CmdSetIProp, CmdSetFProp,
		CmdFeedWatchdog:
		return true
	}
	return false
}

// IsKnownStatus reports whether sts is one of the defined status codes.
func IsKnownStatus(sts uint8) bool {
	return sts <= StsErrValue
}
