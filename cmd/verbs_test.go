// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/tcscope/pkg/capture"
	"github.com/Thermoquad/tcscope/pkg/config"
	"github.com/Thermoquad/tcscope/pkg/logging"
	"github.com/Thermoquad/tcscope/pkg/tclink"
	"github.com/Thermoquad/tcscope/pkg/tcproto"
	"github.com/Thermoquad/tcscope/pkg/tcsim"
)

func TestParseVerb(t *testing.T) {
	tests := []struct {
		args   []string
		code   uint8
		params tcproto.Params
	}{
		{[]string{"ping"}, tcproto.CmdPing, tcproto.Params{}},
		{[]string{"STATUS"}, tcproto.CmdStatus, tcproto.Params{}},
		{[]string{"getiprop", "axis_state"}, tcproto.CmdGetIProp, tcproto.Params{}.WithString("axis_state")},
		{[]string{"setiprop", "axis_state", "8"}, tcproto.CmdSetIProp, tcproto.Params{Ints: []int32{8}}.WithString("axis_state")},
		{[]string{"setfprop", "vel_limit", "12.5"}, tcproto.CmdSetFProp, tcproto.Params{Floats: []float32{12.5}}.WithString("vel_limit")},
		{[]string{"position", "1.5", "-2.25"}, tcproto.CmdPosition, tcproto.Params{Floats: []float32{1.5, -2.25}}},
		{[]string{"poslimits", "1", "2", "3", "4"}, tcproto.CmdPosLimits, tcproto.Params{Floats: []float32{1, 2, 3, 4}}},
		{[]string{"zeroencoder"}, tcproto.CmdZeroEncoder, tcproto.Params{}},
		{[]string{"raw", "0x7f"}, 0x7F, tcproto.Params{}},
		{[]string{"raw", "getfprop", "i:-3", "f:0.5", "s:"}, tcproto.CmdGetFProp, tcproto.Params{Floats: []float32{0.5}, Ints: []int32{-3}}.WithString("")},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			code, params, err := parseVerb(tt.args)
			require.NoError(t, err)
			require.Equal(t, tt.code, code)
			require.Equal(t, tt.params, params)
		})
	}
}

func TestParseVerb_Errors(t *testing.T) {
	tests := [][]string{
		{},
		{"bogus"},
		{"ping", "extra"},
		{"getfprop"},
		{"setiprop", "axis_state"},
		{"setiprop", "axis_state", "eight"},
		{"setiprop", "axis_state", "4294967296"},
		{"setfprop", "vel_limit", "fast"},
		{"position"},
		{"position", "1", "x"},
		{"raw"},
		{"raw", "0x80"},
		{"raw", "nosuch"},
		{"raw", "ping", "3"},
		{"raw", "ping", "x:3"},
		{"raw", "ping", "s:a", "s:b"},
	}

	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, _, err := parseVerb(args)
			require.ErrorIs(t, err, errUsage)
		})
	}
}

func TestVerbUsage(t *testing.T) {
	usage := verbUsage()
	for _, v := range verbs {
		require.Contains(t, usage, v.name)
	}
	require.Contains(t, usage, rawUsage)
}

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		seq      uint8
		response bool
		status   string
		want     string
	}{
		{"ping", []string{"ping"}, 0, false, "", "a155bba2be3a000000000000"},
		{"position", []string{"position", "1.5", "-2.25"}, 42, false, "", "a155bba232c7012a000200000000c03f000010c0"},
		{"getfprop", []string{"getfprop", "vel_limit"}, 3, false, "", "a155bba27f4d0d030000000a76656c5f6c696d697400"},
		{"getfprop response", []string{"raw", "getfprop", "f:123", "s:vel_limit"}, 3, true, "ok", "a155bba2db3d8d030001000a0000f64276656c5f6c696d697400"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := encodeFrame(tt.args, tt.seq, tt.response, tt.status)
			require.NoError(t, err)
			require.Equal(t, tt.want, hex.EncodeToString(p.Bytes()))
		})
	}
}

func TestEncodeFrame_Status(t *testing.T) {
	p, err := encodeFrame([]string{"getiprop", "nope"}, 9, true, "ERR_PARAM")
	require.NoError(t, err)
	require.Equal(t, uint8(tcproto.StsErrParam), p.Status())
	require.Equal(t, uint8(tcproto.CmdGetIProp|tcproto.RespBit), p.Cmd())

	p, err = encodeFrame([]string{"ping"}, 0, true, "4")
	require.NoError(t, err)
	require.Equal(t, uint8(tcproto.StsErrValue), p.Status())

	_, err = encodeFrame([]string{"ping"}, 0, true, "broken")
	require.ErrorIs(t, err, errUsage)

	// 30 floats do not fit a frame
	args := []string{"position"}
	for i := 0; i < 30; i++ {
		args = append(args, "1")
	}
	_, err = encodeFrame(args, 0, false, "")
	require.ErrorIs(t, err, tcproto.ErrValue)
}

func TestParseHex(t *testing.T) {
	data, err := parseHex("0xA1 55 bb,A2\n0X00")
	require.NoError(t, err)
	require.Equal(t, []byte{0xA1, 0x55, 0xBB, 0xA2, 0x00}, data)

	_, err = parseHex("A1 5")
	require.ErrorIs(t, err, errUsage)

	_, err = parseHex("zz")
	require.ErrorIs(t, err, errUsage)
}

func TestDecodeFrames(t *testing.T) {
	stream, err := parseHex("00 ff a155bba2be3a000000000000 13 a155bba27f4d0d030000000a76656c5f6c696d697400")
	require.NoError(t, err)

	out := decodeFrames(stream, time.Now())
	require.Contains(t, out, "REQ PING")
	require.Contains(t, out, "REQ GETFPROP")
	require.Contains(t, out, `String: "vel_limit"`)
	require.NotContains(t, out, "[ERROR]")

	// CRC corrupted
	bad, err := parseHex("a155bba2bf3a000000000000")
	require.NoError(t, err)
	require.Contains(t, decodeFrames(bad, time.Now()), "[ERROR]")

	// Header only
	require.Contains(t, decodeFrames(stream[:8], time.Now()), "incomplete frame")
	require.Contains(t, decodeFrames([]byte{1, 2, 3}, time.Now()), "no frame found")
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		ms   uint64
		want string
	}{
		{0, "0 seconds"},
		{999, "0 seconds"},
		{1000, "1 second"},
		{61000, "1 minute and 1 second"},
		{3600000, "1 hour"},
		{2*86400000 + 3*3600000 + 5*60000 + 7000, "2 days, 3 hours, 5 minutes, and 7 seconds"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, formatUptime(tt.ms))
	}
}

func TestParseStatus(t *testing.T) {
	p, err := tcproto.BuildResponse(make([]byte, tcproto.MaxPacketSize), tcproto.CmdStatus, 1, tcproto.StsOK, tcproto.Params{
		Floats: []float32{1, 2, 0.5, -0.5},
		Ints:   []int32{tcsim.AxisClosedLoop, 0},
	})
	require.NoError(t, err)
	v, err := p.View()
	require.NoError(t, err)

	st, ok := parseStatus(v, time.Now())
	require.True(t, ok)
	require.Equal(t, []float32{1, 2}, st.positions)
	require.Equal(t, []float32{0.5, -0.5}, st.velocities)
	require.Equal(t, "CLOSED_LOOP", axisStateName(st.axisState))
	require.Equal(t, "STATE(5)", axisStateName(5))

	p, err = tcproto.BuildResponse(make([]byte, tcproto.MaxPacketSize), tcproto.CmdStatus, 1, tcproto.StsOK, tcproto.Params{
		Floats: []float32{1, 2, 3},
		Ints:   []int32{1, 0},
	})
	require.NoError(t, err)
	v, err = p.View()
	require.NoError(t, err)
	_, ok = parseStatus(v, time.Now())
	require.False(t, ok)
}

func newTestClient(t *testing.T) *tclink.Client {
	t.Helper()
	logging.ConfigureTests()

	host, dev := net.Pipe()
	peer := tcsim.NewPeer(config.SimConfig{Axes: 2})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- peer.Serve(ctx, dev) }()

	c := tclink.NewClient(host)
	t.Cleanup(func() {
		c.Close()
		cancel()
		dev.Close()
		<-done
	})
	return c
}

func TestRunVerb(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runVerb(ctx, c, &out, []string{"getfprop", "vel_limit"}))
	require.Contains(t, out.String(), "RSP GETFPROP")
	require.Contains(t, out.String(), "Floats: 20")
	require.Contains(t, out.String(), "RTT:")

	out.Reset()
	err := runVerb(ctx, c, &out, []string{"getfprop", "no_such_prop"})
	require.True(t, tclink.IsStatus(err, tcproto.StsErrParam))
	require.Contains(t, out.String(), "sts=ERR_PARAM")

	out.Reset()
	err = runVerb(ctx, c, &out, []string{"frobnicate"})
	require.ErrorIs(t, err, errUsage)
	require.Empty(t, out.String())
}

func TestReplayRecords(t *testing.T) {
	var buf bytes.Buffer
	w, err := capture.NewWriter(&buf, "test")
	require.NoError(t, err)

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, w.Write(t0, capture.DirTx, tcproto.NewStatusRequest(4).Bytes()))
	require.NoError(t, w.Write(t0, capture.DirRx, []byte{0xA1, 0x55, 0xBB, 0xA2}))

	r, err := capture.NewReader(&buf)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, replayRecords(r, &out))
	require.Contains(t, out.String(), "REQ STATUS")
	require.Contains(t, out.String(), "12:00:00.000")
	require.Contains(t, out.String(), "[ERROR]")
}
