// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tcproto

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"strings"
	"testing"
)

// ============================================================
// Test Helpers
// ============================================================

// mustHex decodes a hex string or fails the test
func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

// mustParse parses b or fails the test
func mustParse(t *testing.T, b []byte) View {
	t.Helper()
	v, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return v
}

// stampCRC writes a valid CRC into a hand-built frame
func stampCRC(b []byte) {
	b[OffCRC], b[OffCRC+1] = 0, 0
	binary.LittleEndian.PutUint16(b[OffCRC:], CalculateCRC(b))
}

// newTestPacket returns a packet over a fresh 128-byte buffer
func newTestPacket(t *testing.T) *Packet {
	t.Helper()
	p, err := NewPacket(make([]byte, MaxPacketSize))
	if err != nil {
		t.Fatalf("NewPacket error: %v", err)
	}
	return p
}

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_Empty(t *testing.T) {
	if crc := CalculateCRC(nil); crc != 0x0000 {
		t.Errorf("CRC of empty data should be 0x0000, got 0x%04X", crc)
	}
}

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{
			name:     "ASCII '123456789'",
			data:     []byte("123456789"),
			expected: 0x6E90, // CRC-16/X-25 check value 0x906E, byte swapped
		},
		{
			name:     "empty PING header",
			data:     []byte{0xA1, 0x55, 0xBB, 0xA2, 0, 0, 0, 0, 0, 0, 0, 0},
			expected: 0x3ABE,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := CalculateCRC(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", tt.expected, crc)
			}
		})
	}
}

func TestPacketCRC_IgnoresStoredField(t *testing.T) {
	frame := mustHex(t, "a155bba2be3a000000000000")
	if crc := packetCRC(frame); crc != 0x3ABE {
		t.Errorf("packetCRC = 0x%04X, want 0x3ABE", crc)
	}
	if frame[OffCRC] != 0xBE || frame[OffCRC+1] != 0x3A {
		t.Error("packetCRC modified its input")
	}
}

// ============================================================
// Layout Tests
// ============================================================

func TestTailSizeAndFits(t *testing.T) {
	for nf := 0; nf <= 30; nf++ {
		for ni := 0; ni <= 30; ni++ {
			for _, ns := range []int{0, 1, 2, 10, 116, 117} {
				want := 4*nf + 4*ni + ns
				if got := TailSize(nf, ni, ns); got != want {
					t.Fatalf("TailSize(%d,%d,%d) = %d, want %d", nf, ni, ns, got, want)
				}
				if got := Fits(nf, ni, ns); got != (12+want <= 128) {
					t.Fatalf("Fits(%d,%d,%d) = %v", nf, ni, ns, got)
				}
			}
		}
	}
	if Fits(-1, 0, 0) {
		t.Error("negative counts should not fit")
	}
}

func TestSealConstants(t *testing.T) {
	if binary.LittleEndian.Uint32(SealBytes[:]) != Seal {
		t.Errorf("SealBytes % X does not read as 0x%08X", SealBytes, uint32(Seal))
	}
}

// ============================================================
// Encoder Tests
// ============================================================

func TestNewPacket_SmallBuffer(t *testing.T) {
	_, err := NewPacket(make([]byte, MaxPacketSize-1))
	if !errors.Is(err, ErrValue) {
		t.Errorf("expected ErrValue, got %v", err)
	}
}

func TestInit_SealAndZeroes(t *testing.T) {
	buf := bytes.Repeat([]byte{0xEE}, MaxPacketSize)
	p, err := NewPacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:4], []byte{0xA1, 0x55, 0xBB, 0xA2}) {
		t.Errorf("seal = % X", buf[:4])
	}
	for i := 4; i < MaxPacketSize; i++ {
		if buf[i] != 0 {
			t.Fatalf("byte %d = 0x%02X after Init, want 0", i, buf[i])
		}
	}
	if p.Size() != HeaderSize {
		t.Errorf("Size = %d, want %d", p.Size(), HeaderSize)
	}
	p.Finalize()
	if !bytes.Equal(buf[:4], SealBytes[:]) {
		t.Errorf("seal changed after Finalize: % X", buf[:4])
	}
}

func TestSetCmd(t *testing.T) {
	p := newTestPacket(t)
	if err := p.SetCmd(CmdPosition, true); err != nil {
		t.Fatal(err)
	}
	if p.Cmd() != 0x81 {
		t.Errorf("cmd = 0x%02X, want 0x81", p.Cmd())
	}
	if err := p.SetCmd(0x80, false); !errors.Is(err, ErrValue) {
		t.Errorf("SetCmd(0x80) error = %v, want ErrValue", err)
	}
	if p.Cmd() != 0x81 {
		t.Error("failed SetCmd modified the command byte")
	}
}

func TestOrderEnforcement(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *Packet) error
		bad   func(p *Packet) error
	}{
		{
			name:  "float after int",
			setup: func(p *Packet) error { return p.AddInt(1) },
			bad:   func(p *Packet) error { return p.AddFloat(1) },
		},
		{
			name:  "float after string",
			setup: func(p *Packet) error { return p.SetString("x") },
			bad:   func(p *Packet) error { return p.AddFloat(1) },
		},
		{
			name:  "int after string",
			setup: func(p *Packet) error { return p.SetString("x") },
			bad:   func(p *Packet) error { return p.AddInt(1) },
		},
		{
			name:  "second string",
			setup: func(p *Packet) error { return p.SetString("first") },
			bad:   func(p *Packet) error { return p.SetString("second") },
		},
		{
			name:  "second empty string",
			setup: func(p *Packet) error { return p.SetString("") },
			bad:   func(p *Packet) error { return p.SetString("") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, MaxPacketSize)
			p, _ := NewPacket(buf)
			if err := p.AddFloat(2.5); err != nil {
				t.Fatal(err)
			}
			if err := tt.setup(p); err != nil {
				t.Fatal(err)
			}
			before := append([]byte(nil), buf...)
			if err := tt.bad(p); !errors.Is(err, ErrOrder) {
				t.Fatalf("expected ErrOrder, got %v", err)
			}
			if !bytes.Equal(before, buf) {
				t.Error("buffer changed after rejected append")
			}
		})
	}
}

func TestCapEnforcement(t *testing.T) {
	// One spare byte past the packet to catch overruns
	buf := make([]byte, MaxPacketSize+1)
	buf[MaxPacketSize] = 0xEE
	p, err := NewPacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 29; i++ {
		if err := p.AddFloat(float32(i)); err != nil {
			t.Fatalf("AddFloat %d: %v", i, err)
		}
	}
	if p.Size() != MaxPacketSize {
		t.Fatalf("Size = %d, want %d", p.Size(), MaxPacketSize)
	}
	before := append([]byte(nil), buf...)
	if err := p.AddFloat(29); !errors.Is(err, ErrValue) {
		t.Fatalf("30th AddFloat error = %v, want ErrValue", err)
	}
	if p.NFloat() != 29 {
		t.Errorf("NFloat = %d, want 29", p.NFloat())
	}
	if buf[MaxPacketSize] != 0xEE {
		t.Error("byte 128 was overwritten")
	}
	if !bytes.Equal(before, buf) {
		t.Error("buffer changed after rejected AddFloat")
	}
	if err := p.AddInt(1); !errors.Is(err, ErrValue) {
		t.Errorf("AddInt on full packet error = %v, want ErrValue", err)
	}
	if err := p.SetString(""); !errors.Is(err, ErrValue) {
		t.Errorf("SetString on full packet error = %v, want ErrValue", err)
	}

	p.Finalize()
	v := mustParse(t, buf)
	if v.Size() != MaxPacketSize || v.NFloat() != 29 {
		t.Errorf("decoded size=%d nfloat=%d", v.Size(), v.NFloat())
	}
}

func TestSetString_Limits(t *testing.T) {
	p := newTestPacket(t)
	if err := p.SetString(strings.Repeat("a", MaxTailSize)); !errors.Is(err, ErrValue) {
		t.Errorf("116-byte string error = %v, want ErrValue", err)
	}
	if err := p.SetString("vel\x00limit"); !errors.Is(err, ErrValue) {
		t.Errorf("interior NUL error = %v, want ErrValue", err)
	}
	if p.NStr() != 0 {
		t.Fatal("rejected strings must not set nstr")
	}
	if err := p.SetString(strings.Repeat("a", MaxTailSize-1)); err != nil {
		t.Fatalf("115-byte string: %v", err)
	}
	if p.Size() != MaxPacketSize {
		t.Errorf("Size = %d, want %d", p.Size(), MaxPacketSize)
	}
}

func TestFinalize_LocksPacket(t *testing.T) {
	p := newTestPacket(t)
	p.Finalize()
	if !p.Finalized() {
		t.Fatal("Finalized() = false")
	}
	if err := p.AddFloat(1); !errors.Is(err, ErrFinalized) {
		t.Errorf("AddFloat after Finalize: %v", err)
	}
	if err := p.AddInt(1); !errors.Is(err, ErrFinalized) {
		t.Errorf("AddInt after Finalize: %v", err)
	}
	if err := p.SetString("x"); !errors.Is(err, ErrFinalized) {
		t.Errorf("SetString after Finalize: %v", err)
	}
	if err := p.SetCmd(1, false); !errors.Is(err, ErrFinalized) {
		t.Errorf("SetCmd after Finalize: %v", err)
	}
	if err := p.SetSeq(1); !errors.Is(err, ErrFinalized) {
		t.Errorf("SetSeq after Finalize: %v", err)
	}
	if err := p.SetStatus(1); !errors.Is(err, ErrFinalized) {
		t.Errorf("SetStatus after Finalize: %v", err)
	}
	p.Init()
	if p.Finalized() {
		t.Error("Init should reopen the packet")
	}
}

func TestEmptyTailRegressionCRC(t *testing.T) {
	p := newTestPacket(t)
	crc := p.Finalize()
	if crc != 0x3ABE {
		t.Errorf("empty PING CRC = 0x%04X, want 0x3ABE", crc)
	}
	if want := mustHex(t, "a155bba2be3a000000000000"); !bytes.Equal(p.Bytes(), want) {
		t.Errorf("bytes = %X, want %X", p.Bytes(), want)
	}
}

// ============================================================
// Scenario Tests
// ============================================================

func TestScenario_PingRequest(t *testing.T) {
	p := newTestPacket(t)
	if err := p.SetCmd(CmdPing, false); err != nil {
		t.Fatal(err)
	}
	if err := p.SetSeq(7); err != nil {
		t.Fatal(err)
	}
	p.Finalize()

	if p.Size() != 12 {
		t.Errorf("length = %d, want 12", p.Size())
	}
	v := mustParse(t, p.Bytes())
	if v.Opcode() != CmdPing || v.IsResponse() || v.Seq() != 7 || v.Status() != 0 {
		t.Errorf("header mismatch: opcode=%d resp=%v seq=%d sts=%d", v.Opcode(), v.IsResponse(), v.Seq(), v.Status())
	}
	if v.NFloat() != 0 || v.NInt() != 0 || v.NStr() != 0 {
		t.Errorf("counts = %d/%d/%d, want 0/0/0", v.NFloat(), v.NInt(), v.NStr())
	}
	if v.CRC() != 0xE68E {
		t.Errorf("CRC = 0x%04X, want 0xE68E", v.CRC())
	}
}

func TestScenario_PositionTwoFloats(t *testing.T) {
	p := newTestPacket(t)
	p.SetCmd(CmdPosition, false)
	p.SetSeq(42)
	if err := p.AddFloat(1.5); err != nil {
		t.Fatal(err)
	}
	if err := p.AddFloat(-2.25); err != nil {
		t.Fatal(err)
	}
	p.Finalize()

	want := mustHex(t, "a155bba232c7012a000200000000c03f000010c0")
	if !bytes.Equal(p.Bytes(), want) {
		t.Fatalf("bytes = %X, want %X", p.Bytes(), want)
	}
	v := mustParse(t, p.Bytes())
	if v.Size() != 20 {
		t.Errorf("length = %d, want 20", v.Size())
	}
	if f, _ := v.FloatAt(0); f != 1.5 {
		t.Errorf("FloatAt(0) = %v, want 1.5", f)
	}
	if f, _ := v.FloatAt(1); f != -2.25 {
		t.Errorf("FloatAt(1) = %v, want -2.25", f)
	}
}

func TestScenario_GetFPropRequest(t *testing.T) {
	p := newTestPacket(t)
	p.SetCmd(CmdGetFProp, false)
	p.SetSeq(3)
	if err := p.SetString("vel_limit"); err != nil {
		t.Fatal(err)
	}
	p.Finalize()

	v := mustParse(t, p.Bytes())
	if v.Size() != 22 || v.NStr() != 10 {
		t.Errorf("length=%d nstr=%d, want 22/10", v.Size(), v.NStr())
	}
	if s, ok := v.StringParam(); !ok || s != "vel_limit" {
		t.Errorf("StringParam = %q, %v", s, ok)
	}
	if v.CRC() != 0x4D7F {
		t.Errorf("CRC = 0x%04X, want 0x4D7F", v.CRC())
	}
}

func TestScenario_GetFPropResponse(t *testing.T) {
	p := newTestPacket(t)
	p.SetCmd(CmdGetFProp, true)
	p.SetSeq(3)
	p.SetStatus(StsOK)
	if err := p.AddFloat(123.0); err != nil {
		t.Fatal(err)
	}
	if err := p.SetString("vel_limit"); err != nil {
		t.Fatal(err)
	}
	p.Finalize()

	want := mustHex(t, "a155bba2db3d8d030001000a0000f64276656c5f6c696d697400")
	if !bytes.Equal(p.Bytes(), want) {
		t.Fatalf("bytes = %X, want %X", p.Bytes(), want)
	}
	v := mustParse(t, p.Bytes())
	if v.Cmd() != 0x8D {
		t.Errorf("cmd = 0x%02X, want 0x8D", v.Cmd())
	}
	if f, _ := v.FloatAt(0); f != 123.0 {
		t.Errorf("FloatAt(0) = %v", f)
	}
	if s, _ := v.StringParam(); s != "vel_limit" {
		t.Errorf("StringParam = %q", s)
	}
}

func TestScenario_CorruptedCRC(t *testing.T) {
	frame := mustHex(t, "a155bba232c7012a000200000000c03f000010c0")
	frame[13] ^= 0x01
	if _, err := Parse(frame); !errors.Is(err, ErrCRC) {
		t.Errorf("expected ErrCRC, got %v", err)
	}
}

func TestResponseBit(t *testing.T) {
	p := newTestPacket(t)
	p.SetCmd(CmdPosition, true)
	p.Finalize()
	if p.Bytes()[OffCmd] != 0x81 {
		t.Fatalf("cmd byte = 0x%02X", p.Bytes()[OffCmd])
	}
	v := mustParse(t, p.Bytes())
	if v.Opcode() != 1 || !v.IsResponse() {
		t.Errorf("opcode=%d resp=%v", v.Opcode(), v.IsResponse())
	}
}

// ============================================================
// Decoder / Validator Tests
// ============================================================

func TestParse_Errors(t *testing.T) {
	good := mustHex(t, "a155bba232c7012a000200000000c03f000010c0")

	badSeal := append([]byte(nil), good...)
	badSeal[2] = 0x00

	truncated := good[:len(good)-1]

	oversize := make([]byte, 200)
	copy(oversize, good)
	oversize[OffNFloat] = 30

	noTerm := mustHex(t, "a155bba27f4d0d030000000a76656c5f6c696d697400")
	noTerm[len(noTerm)-1] = 'x'

	interior := mustHex(t, "a155bba27f4d0d030000000a76656c5f6c696d697400")
	interior[OffTail+3] = 0
	stampCRC(interior)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"nil", nil, ErrShort},
		{"eleven bytes", good[:11], ErrShort},
		{"seal", badSeal, ErrSeal},
		{"truncated tail", truncated, ErrLength},
		{"over 128 bytes", oversize, ErrLength},
		{"missing terminator", noTerm, ErrString},
		{"interior NUL", interior, ErrString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Parse(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if !v.IsZero() {
				t.Error("failed parse should return the zero View")
			}
		})
	}
}

func TestZeroValuesPanic(t *testing.T) {
	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("%s on a zero value did not panic", name)
			}
		}()
		fn()
	}

	var v View
	if !v.IsZero() {
		t.Fatal("View{} should report IsZero")
	}
	mustPanic("View.Cmd", func() { v.Cmd() })
	mustPanic("View.CRC", func() { v.CRC() })

	var p Packet
	mustPanic("Packet.Cmd", func() { p.Cmd() })
}

func TestParse_DoesNotMutate(t *testing.T) {
	frame := mustHex(t, "a155bba2db3d8d030001000a0000f64276656c5f6c696d697400")
	orig := append([]byte(nil), frame...)
	mustParse(t, frame)
	frame[13] ^= 0xFF
	Parse(frame)
	frame[13] ^= 0xFF
	if !bytes.Equal(frame, orig) {
		t.Error("Parse modified its input")
	}
}

func TestParse_TrailingBytes(t *testing.T) {
	frame := mustHex(t, "a155bba28ee6000700000000")
	stream := append(append([]byte(nil), frame...), 0xDE, 0xAD)
	v := mustParse(t, stream)
	if v.Size() != len(frame) {
		t.Errorf("Size = %d, want %d", v.Size(), len(frame))
	}
	if !bytes.Equal(v.Bytes(), frame) {
		t.Error("view should cover only the declared frame")
	}
}

func TestView_IndexErrors(t *testing.T) {
	p := newTestPacket(t)
	p.AddFloat(1)
	p.AddInt(-7)
	p.Finalize()
	v := mustParse(t, p.Bytes())

	if _, err := v.FloatAt(-1); !errors.Is(err, ErrIndex) {
		t.Errorf("FloatAt(-1): %v", err)
	}
	if _, err := v.FloatAt(1); !errors.Is(err, ErrIndex) {
		t.Errorf("FloatAt(1): %v", err)
	}
	if _, err := v.IntAt(1); !errors.Is(err, ErrIndex) {
		t.Errorf("IntAt(1): %v", err)
	}
	if i, err := v.IntAt(0); err != nil || i != -7 {
		t.Errorf("IntAt(0) = %d, %v", i, err)
	}
	if _, ok := v.StringParam(); ok {
		t.Error("StringParam should report no string")
	}
	if v.HasString() {
		t.Error("HasString = true")
	}
}

func TestView_EmptyString(t *testing.T) {
	p := newTestPacket(t)
	if err := p.SetString(""); err != nil {
		t.Fatal(err)
	}
	p.Finalize()
	v := mustParse(t, p.Bytes())
	s, ok := v.StringParam()
	if !ok || s != "" || v.NStr() != 1 {
		t.Errorf("StringParam = %q, %v, nstr=%d", s, ok, v.NStr())
	}
}

func TestRoundTrip_SpecialValues(t *testing.T) {
	floats := []float32{
		float32(math.Copysign(0, -1)),
		math.Float32frombits(0x00000001), // smallest subnormal
		math.Float32frombits(0x007FFFFF), // largest subnormal
		float32(math.Inf(1)),
		float32(math.Inf(-1)),
		math.Float32frombits(0x7FC00001), // NaN with payload
		math.MaxFloat32,
	}
	ints := []int32{math.MinInt32, -1, 0, 1, math.MaxInt32}
	str := "\xc3\xa9t\xe2\x82\xac\xff\x01"

	buf := make([]byte, MaxPacketSize)
	p, err := BuildRequest(buf, CmdSetFProp, 200, Params{Floats: floats, Ints: ints}.WithString(str))
	if err != nil {
		t.Fatal(err)
	}
	v := mustParse(t, p.Bytes())
	for i, f := range floats {
		got, err := v.FloatAt(i)
		if err != nil || math.Float32bits(got) != math.Float32bits(f) {
			t.Errorf("float %d: got bits 0x%08X, want 0x%08X", i, math.Float32bits(got), math.Float32bits(f))
		}
	}
	for i, want := range ints {
		if got, _ := v.IntAt(i); got != want {
			t.Errorf("int %d: got %d, want %d", i, got, want)
		}
	}
	if s, _ := v.StringParam(); s != str {
		t.Errorf("string = %q, want %q", s, str)
	}
}

func TestBitFlips(t *testing.T) {
	frames := map[string]string{
		"position":          "a155bba232c7012a000200000000c03f000010c0",
		"getfprop":          "a155bba27f4d0d030000000a76656c5f6c696d697400",
		"getfprop response": "a155bba2db3d8d030001000a0000f64276656c5f6c696d697400",
	}
	for name, h := range frames {
		t.Run(name, func(t *testing.T) {
			checkBitFlips(t, mustHex(t, h))
		})
	}
}

// checkBitFlips flips every bit outside the CRC field and checks the
// resulting decode error
func checkBitFlips(t *testing.T, frame []byte) {
	t.Helper()
	hasString := frame[OffNStr] > 0
	for pos := 0; pos < len(frame); pos++ {
		if pos == OffCRC || pos == OffCRC+1 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), frame...)
			corrupt[pos] ^= 1 << bit
			_, err := Parse(corrupt)

			var want error
			switch {
			case pos < 4:
				want = ErrSeal
			case pos == OffNFloat || pos == OffNInt || pos == OffNStr:
				// Counts move the frame boundary; any rejection will do
				if err == nil {
					t.Fatalf("flip byte %d bit %d: accepted", pos, bit)
				}
				continue
			case hasString && pos == len(frame)-1:
				want = ErrString
			default:
				want = ErrCRC
			}
			if !errors.Is(err, want) {
				t.Fatalf("flip byte %d bit %d: expected %v, got %v", pos, bit, want, err)
			}
		}
	}
}
