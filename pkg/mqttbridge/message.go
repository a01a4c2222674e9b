// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqttbridge

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/tcscope/pkg/tcproto"
)

var (
	ErrPayload  = errors.New("mqttbridge: invalid tx payload")
	ErrResponse = errors.New("mqttbridge: refusing to forward a response frame")
)

// Float marshals non-finite values as strings, which plain JSON numbers
// cannot carry.
type Float float32

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return json.Marshal(strconv.FormatFloat(v, 'g', -1, 32))
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 32)), nil
}

// FrameMessage is the JSON document published for every frame.
type FrameMessage struct {
	Time     time.Time `json:"time"`
	Command  string    `json:"cmd"`
	Opcode   uint8     `json:"opcode"`
	Response bool      `json:"response"`
	Seq      uint8     `json:"seq"`
	Status   string    `json:"status,omitempty"`
	Floats   []Float   `json:"floats,omitempty"`
	Ints     []int32   `json:"ints,omitempty"`
	String   *string   `json:"string,omitempty"`
	CRC      string    `json:"crc"`
	Raw      string    `json:"raw"`
}

// NewFrameMessage describes v.
func NewFrameMessage(v tcproto.View, ts time.Time) FrameMessage {
	msg := FrameMessage{
		Time:     ts.UTC(),
		Command:  tcproto.FormatCommand(v.Opcode()),
		Opcode:   v.Opcode(),
		Response: v.IsResponse(),
		Seq:      v.Seq(),
		Ints:     v.Ints(),
		CRC:      fmt.Sprintf("0x%04X", v.CRC()),
		Raw:      hex.EncodeToString(v.Bytes()),
	}
	if v.IsResponse() {
		msg.Status = tcproto.FormatStatus(v.Status())
	}
	for _, f := range v.Floats() {
		msg.Floats = append(msg.Floats, Float(f))
	}
	if s, ok := v.StringParam(); ok {
		msg.String = &s
	}
	return msg
}

// EncodeFrame returns the JSON payload for v.
func EncodeFrame(v tcproto.View, ts time.Time) ([]byte, error) {
	return json.Marshal(NewFrameMessage(v, ts))
}

// ParseTxPayload decodes a hex frame received on the tx topic. Whitespace
// and an optional 0x prefix are ignored. Only well formed requests are
// accepted.
func ParseTxPayload(payload []byte) (tcproto.View, error) {
	s := strings.Join(strings.Fields(string(payload)), "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	frame, err := hex.DecodeString(s)
	if err != nil {
		return tcproto.View{}, fmt.Errorf("%w: %v", ErrPayload, err)
	}
	v, err := tcproto.Parse(frame)
	if err != nil {
		return tcproto.View{}, fmt.Errorf("%w: %w", ErrPayload, err)
	}
	if v.Size() != len(frame) {
		return tcproto.View{}, fmt.Errorf("%w: %d trailing bytes", ErrPayload, len(frame)-v.Size())
	}
	if v.IsResponse() {
		return tcproto.View{}, ErrResponse
	}
	return v, nil
}

// Topic joins the topic levels for a device.
func Topic(prefix, id string, levels ...string) string {
	parts := make([]string, 0, len(levels)+2)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, id)
	parts = append(parts, levels...)
	return strings.Join(parts, "/")
}
