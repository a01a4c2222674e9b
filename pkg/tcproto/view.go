// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tcproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// View is a validated, read-only window over a frame. It borrows the bytes
// passed to Parse and must not outlive them.
//
// The zero View is not usable: its accessors panic. Parse and Packet.View
// return it alongside an error; check IsZero before reading a View that
// may come from a failed call.
type View struct {
	b []byte
}

// Parse validates b and returns a view of the frame it starts with.
// Bytes past the declared length are ignored. b is never modified.
//
// Checks run in order and the first failure is returned: header length
// (ErrShort), seal (ErrSeal), declared length (ErrLength), string
// terminator (ErrString), CRC (ErrCRC), interior NUL in the string
// (ErrString).
func Parse(b []byte) (View, error) {
	if len(b) < HeaderSize {
		return View{}, fmt.Errorf("%w: got %d bytes", ErrShort, len(b))
	}
	if b[0] != Seal0 || b[1] != Seal1 || b[2] != Seal2 || b[3] != Seal3 {
		return View{}, fmt.Errorf("%w: got % X", ErrSeal, b[OffSeal:OffSeal+4])
	}

	nf, ni, ns := int(b[OffNFloat]), int(b[OffNInt]), int(b[OffNStr])
	total := HeaderSize + TailSize(nf, ni, ns)
	if total > MaxPacketSize || total > len(b) {
		return View{}, fmt.Errorf("%w: declared %d bytes (nfloat=%d nint=%d nstr=%d), have %d, max %d",
			ErrLength, total, nf, ni, ns, len(b), MaxPacketSize)
	}
	if ns > 0 && b[total-1] != 0 {
		return View{}, fmt.Errorf("%w: last byte 0x%02X", ErrString, b[total-1])
	}

	stored := binary.LittleEndian.Uint16(b[OffCRC : OffCRC+2])
	calculated := packetCRC(b[:total])
	if stored != calculated {
		return View{}, fmt.Errorf("%w: stored 0x%04X, calculated 0x%04X", ErrCRC, stored, calculated)
	}

	if ns > 1 {
		start := stringOffset(nf, ni)
		if i := bytes.IndexByte(b[start:total-1], 0); i >= 0 {
			return View{}, fmt.Errorf("%w: interior NUL at index %d", ErrString, i)
		}
	}

	return View{b: b[:total]}, nil
}

// Cmd returns the raw command byte.
func (v View) Cmd() uint8 { return v.b[OffCmd] }

// IsResponse reports whether the response bit is set.
func (v View) IsResponse() bool { return v.b[OffCmd]&RespBit != 0 }

// Opcode returns the command byte without the response bit.
func (v View) Opcode() uint8 { return v.b[OffCmd] & OpcodeMask }

// Seq returns the sequence number.
func (v View) Seq() uint8 { return v.b[OffSeq] }

// Status returns the status byte.
func (v View) Status() uint8 { return v.b[OffStatus] }

// NFloat returns the number of float parameters.
func (v View) NFloat() int { return int(v.b[OffNFloat]) }

// NInt returns the number of int parameters.
func (v View) NInt() int { return int(v.b[OffNInt]) }

// NStr returns the string region length including the terminator.
func (v View) NStr() int { return int(v.b[OffNStr]) }

// HasString reports whether the frame carries a string parameter.
func (v View) HasString() bool { return v.NStr() > 0 }

// CRC returns the stored CRC.
func (v View) CRC() uint16 { return binary.LittleEndian.Uint16(v.b[OffCRC : OffCRC+2]) }

// Size returns the frame length.
func (v View) Size() int { return len(v.b) }

// Bytes returns the frame bytes. The slice aliases the parsed input.
func (v View) Bytes() []byte { return v.b }

// IsZero reports whether v is the zero View (not produced by Parse).
func (v View) IsZero() bool { return v.b == nil }

// FloatAt returns float parameter i.
func (v View) FloatAt(i int) (float32, error) {
	if i < 0 || i >= v.NFloat() {
		return 0, fmt.Errorf("%w: float %d of %d", ErrIndex, i, v.NFloat())
	}
	off := floatOffset(i)
	return math.Float32frombits(binary.LittleEndian.Uint32(v.b[off : off+FloatSize])), nil
}

// IntAt returns int parameter i.
func (v View) IntAt(i int) (int32, error) {
	if i < 0 || i >= v.NInt() {
		return 0, fmt.Errorf("%w: int %d of %d", ErrIndex, i, v.NInt())
	}
	off := intOffset(v.NFloat(), i)
	return int32(binary.LittleEndian.Uint32(v.b[off : off+IntSize])), nil
}

// StringBytes returns the string parameter without its terminator. The
// slice aliases the parsed input. ok is false when there is no string.
func (v View) StringBytes() (s []byte, ok bool) {
	ns := v.NStr()
	if ns == 0 {
		return nil, false
	}
	off := stringOffset(v.NFloat(), v.NInt())
	return v.b[off : off+ns-1], true
}

// StringParam returns a copy of the string parameter.
func (v View) StringParam() (string, bool) {
	s, ok := v.StringBytes()
	return string(s), ok
}

// Floats returns all float parameters.
func (v View) Floats() []float32 {
	out := make([]float32, v.NFloat())
	for i := range out {
		out[i], _ = v.FloatAt(i)
	}
	return out
}

// Ints returns all int parameters.
func (v View) Ints() []int32 {
	out := make([]int32, v.NInt())
	for i := range out {
		out[i], _ = v.IntAt(i)
	}
	return out
}
