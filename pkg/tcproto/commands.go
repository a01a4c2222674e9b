// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tcproto

// Params holds the tail parameters of a request or response.
type Params struct {
	Floats []float32
	Ints   []int32
	Str    string
	HasStr bool // Str is sent even when empty
}

// WithString returns a copy of p carrying s as its string parameter.
func (p Params) WithString(s string) Params {
	p.Str = s
	p.HasStr = true
	return p
}

// BuildRequest initializes a request packet over buf, appends params in
// wire order and finalizes it.
func BuildRequest(buf []byte, code, seq uint8, params Params) (*Packet, error) {
	return build(buf, code, seq, false, StsOK, params)
}

// BuildResponse initializes a response packet over buf with the response
// bit set, appends params in wire order and finalizes it.
func BuildResponse(buf []byte, code, seq, sts uint8, params Params) (*Packet, error) {
	return build(buf, code, seq, true, sts, params)
}

// RespondTo builds the response to req, echoing its opcode and sequence.
func RespondTo(buf []byte, req View, sts uint8, params Params) (*Packet, error) {
	return BuildResponse(buf, req.Opcode(), req.Seq(), sts, params)
}

func build(buf []byte, code, seq uint8, isResponse bool, sts uint8, params Params) (*Packet, error) {
	p, err := NewPacket(buf)
	if err != nil {
		return nil, err
	}
	if err := p.SetCmd(code, isResponse); err != nil {
		return nil, err
	}
	if err := p.SetSeq(seq); err != nil {
		return nil, err
	}
	if err := p.SetStatus(sts); err != nil {
		return nil, err
	}
	for _, f := range params.Floats {
		if err := p.AddFloat(f); err != nil {
			return nil, err
		}
	}
	for _, i := range params.Ints {
		if err := p.AddInt(i); err != nil {
			return nil, err
		}
	}
	if params.HasStr || params.Str != "" {
		if err := p.SetString(params.Str); err != nil {
			return nil, err
		}
	}
	p.Finalize()
	return p, nil
}

// Request builders allocate their own buffer and return a finalized packet.
// They are convenience wrappers around BuildRequest with the parameter
// layout each command expects.

// NewPing creates a PING request.
func NewPing(seq uint8) *Packet {
	return mustRequest(CmdPing, seq, Params{})
}

// NewStatusRequest creates a STATUS request.
func NewStatusRequest(seq uint8) *Packet {
	return mustRequest(CmdStatus, seq, Params{})
}

// NewPosition creates a POSITION request, one float per axis.
func NewPosition(seq uint8, positions ...float32) (*Packet, error) {
	return BuildRequest(make([]byte, MaxPacketSize), CmdPosition, seq, Params{Floats: positions})
}

// NewPosLimits creates a POSLIMITS request: positions followed by
// velocity feedforward values.
func NewPosLimits(seq uint8, values ...float32) (*Packet, error) {
	return BuildRequest(make([]byte, MaxPacketSize), CmdPosLimits, seq, Params{Floats: values})
}

// NewTrapTraj creates a TRAPTRAJ request, one target float per axis.
func NewTrapTraj(seq uint8, targets ...float32) (*Packet, error) {
	return BuildRequest(make([]byte, MaxPacketSize), CmdTrapTraj, seq, Params{Floats: targets})
}

// NewZeroEncoder creates a ZEROENCODER request.
func NewZeroEncoder(seq uint8) *Packet {
	return mustRequest(CmdZeroEncoder, seq, Params{})
}

// NewGetIProp creates a GETIPROP request for the named property.
func NewGetIProp(seq uint8, name string) (*Packet, error) {
	return BuildRequest(make([]byte, MaxPacketSize), CmdGetIProp, seq, Params{}.WithString(name))
}

// NewGetFProp creates a GETFPROP request for the named property.
func NewGetFProp(seq uint8, name string) (*Packet, error) {
	return BuildRequest(make([]byte, MaxPacketSize), CmdGetFProp, seq, Params{}.WithString(name))
}

// NewSetIProp creates a SETIPROP request.
func NewSetIProp(seq uint8, name string, value int32) (*Packet, error) {
	return BuildRequest(make([]byte, MaxPacketSize), CmdSetIProp, seq, Params{Ints: []int32{value}}.WithString(name))
}

// NewSetFProp creates a SETFPROP request.
func NewSetFProp(seq uint8, name string, value float32) (*Packet, error) {
	return BuildRequest(make([]byte, MaxPacketSize), CmdSetFProp, seq, Params{Floats: []float32{value}}.WithString(name))
}

// NewFeedWatchdog creates a FEEDWATCHDOG request.
func NewFeedWatchdog(seq uint8) *Packet {
	return mustRequest(CmdFeedWatchdog, seq, Params{})
}

// mustRequest builds a parameterless request. These cannot fail.
func mustRequest(code, seq uint8, params Params) *Packet {
	p, err := BuildRequest(make([]byte, MaxPacketSize), code, seq, params)
	if err != nil {
		panic("tcproto: " + err.Error())
	}
	return p
}
