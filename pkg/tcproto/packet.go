// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tcproto

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Packet builds a protocol frame in place over a caller-owned buffer.
//
// Parameters must be appended floats first, then ints, then at most one
// string. A failed append leaves the buffer unchanged. Once Finalize has
// stamped the CRC the packet is read-only and further mutation returns
// ErrFinalized.
//
// A Packet is owned by a single writer while it is being built. The zero
// Packet has no buffer and its accessors panic; create one with New or
// NewPacket.
type Packet struct {
	buf       []byte
	finalized bool
}

// NewPacket initializes a packet over buf, which must have a capacity of at
// least MaxPacketSize bytes. Only buf[:MaxPacketSize] is ever touched.
func NewPacket(buf []byte) (*Packet, error) {
	if cap(buf) < MaxPacketSize {
		return nil, fmt.Errorf("%w: buffer capacity %d, need %d", ErrValue, cap(buf), MaxPacketSize)
	}
	p := &Packet{buf: buf[:MaxPacketSize]}
	p.Init()
	return p, nil
}

// New allocates a fresh packet buffer and initializes it.
func New() *Packet {
	p, _ := NewPacket(make([]byte, MaxPacketSize))
	return p
}

// Init zeroes the buffer and writes the seal. All counts, the CRC and the
// status are left at zero.
func (p *Packet) Init() {
	clear(p.buf)
	copy(p.buf[OffSeal:], SealBytes[:])
	p.finalized = false
}

// SetCmd writes the command byte. code must fit in 7 bits.
func (p *Packet) SetCmd(code uint8, isResponse bool) error {
	if p.finalized {
		return ErrFinalized
	}
	if code > OpcodeMask {
		return fmt.Errorf("%w: opcode 0x%02X exceeds 0x%02X", ErrValue, code, OpcodeMask)
	}
	if isResponse {
		code |= RespBit
	}
	p.buf[OffCmd] = code
	return nil
}

// SetSeq writes the sequence number.
func (p *Packet) SetSeq(seq uint8) error {
	if p.finalized {
		return ErrFinalized
	}
	p.buf[OffSeq] = seq
	return nil
}

// SetStatus writes the status byte. Requests must leave it at StsOK.
func (p *Packet) SetStatus(sts uint8) error {
	if p.finalized {
		return ErrFinalized
	}
	p.buf[OffStatus] = sts
	return nil
}

// AddFloat appends a float parameter. No int or string may precede it.
func (p *Packet) AddFloat(v float32) error {
	if p.finalized {
		return ErrFinalized
	}
	nf, ni, ns := p.NFloat(), p.NInt(), p.NStr()
	if ni > 0 || ns > 0 {
		return fmt.Errorf("%w: float after %d ints and %d string bytes", ErrOrder, ni, ns)
	}
	if !Fits(nf+1, ni, ns) {
		return fmt.Errorf("%w: float %d would exceed %d bytes", ErrValue, nf+1, MaxPacketSize)
	}
	off := floatOffset(nf)
	binary.LittleEndian.PutUint32(p.buf[off:off+FloatSize], math.Float32bits(v))
	p.buf[OffNFloat]++
	return nil
}

// AddInt appends an int parameter. No string may precede it.
func (p *Packet) AddInt(v int32) error {
	if p.finalized {
		return ErrFinalized
	}
	nf, ni, ns := p.NFloat(), p.NInt(), p.NStr()
	if ns > 0 {
		return fmt.Errorf("%w: int after %d string bytes", ErrOrder, ns)
	}
	if !Fits(nf, ni+1, ns) {
		return fmt.Errorf("%w: int %d would exceed %d bytes", ErrValue, ni+1, MaxPacketSize)
	}
	off := intOffset(nf, ni)
	binary.LittleEndian.PutUint32(p.buf[off:off+IntSize], uint32(v))
	p.buf[OffNInt]++
	return nil
}

// SetString writes the single string parameter followed by its NUL
// terminator. A packet carries at most one string.
func (p *Packet) SetString(s string) error {
	if p.finalized {
		return ErrFinalized
	}
	nf, ni, ns := p.NFloat(), p.NInt(), p.NStr()
	if ns > 0 {
		return fmt.Errorf("%w: string already set", ErrOrder)
	}
	if i := strings.IndexByte(s, 0); i >= 0 {
		return fmt.Errorf("%w: interior NUL at index %d", ErrValue, i)
	}
	if !Fits(nf, ni, len(s)+1) {
		return fmt.Errorf("%w: string of %d bytes would exceed %d bytes", ErrValue, len(s), MaxPacketSize)
	}
	off := stringOffset(nf, ni)
	copy(p.buf[off:], s)
	p.buf[off+len(s)] = 0
	p.buf[OffNStr] = uint8(len(s) + 1)
	return nil
}

// Finalize stamps the CRC over the serialized frame and returns it.
func (p *Packet) Finalize() uint16 {
	p.buf[OffCRC] = 0
	p.buf[OffCRC+1] = 0
	crc := CalculateCRC(p.buf[:p.Size()])
	binary.LittleEndian.PutUint16(p.buf[OffCRC:OffCRC+2], crc)
	p.finalized = true
	return crc
}

// Finalized reports whether Finalize has been called.
func (p *Packet) Finalized() bool {
	return p.finalized
}

// Size returns the serialized frame length.
func (p *Packet) Size() int {
	return HeaderSize + TailSize(p.NFloat(), p.NInt(), p.NStr())
}

// Bytes returns the serialized frame. The slice aliases the packet buffer.
func (p *Packet) Bytes() []byte {
	return p.buf[:p.Size()]
}

// View parses the finalized frame.
func (p *Packet) View() (View, error) {
	return Parse(p.Bytes())
}

// Cmd returns the raw command byte.
func (p *Packet) Cmd() uint8 { return p.buf[OffCmd] }

// Seq returns the sequence number.
func (p *Packet) Seq() uint8 { return p.buf[OffSeq] }

// Status returns the status byte.
func (p *Packet) Status() uint8 { return p.buf[OffStatus] }

// NFloat returns the number of float parameters.
func (p *Packet) NFloat() int { return int(p.buf[OffNFloat]) }

// NInt returns the number of int parameters.
func (p *Packet) NInt() int { return int(p.buf[OffNInt]) }

// NStr returns the string region length including the terminator.
func (p *Packet) NStr() int { return int(p.buf[OffNStr]) }
