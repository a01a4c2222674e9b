// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tcsim simulates the motor drive side of the link so the host
// tools can run without hardware.
package tcsim

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/tcscope/pkg/config"
	"github.com/Thermoquad/tcscope/pkg/tcproto"
)

// Peer is a simulated drive. Moves complete instantly: the measured
// position equals the last commanded setpoint.
type Peer struct {
	mu  sync.Mutex
	log zerolog.Logger
	now func() time.Time

	axes       int
	intProps   map[string]int32
	floatProps map[string]float32
	positions  []float32
	velocities []float32
	offsets    []float32
	lastFeed   time.Time
	stats      *tcproto.Statistics
}

// Option configures a Peer.
type Option func(*Peer)

// WithLogger sets the logger. The default is the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Peer) { p.log = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Peer) { p.now = now }
}

// NewPeer creates a peer from cfg. Property seeds in cfg override the
// built-in defaults and may add new properties.
func NewPeer(cfg config.SimConfig, opts ...Option) *Peer {
	axes := cfg.Axes
	if axes <= 0 {
		axes = config.DefaultAxes
	}
	p := &Peer{
		log:        log.Logger,
		now:        time.Now,
		axes:       axes,
		intProps:   defaultIntProps(),
		floatProps: defaultFloatProps(),
		positions:  make([]float32, axes),
		velocities: make([]float32, axes),
		offsets:    make([]float32, axes),
		stats:      tcproto.NewStatistics(),
	}
	for k, v := range cfg.IntProps {
		p.intProps[k] = v
	}
	for k, v := range cfg.FloatProps {
		p.floatProps[k] = v
	}
	if cfg.WatchdogMS > 0 {
		p.floatProps[PropWatchdogTimeout] = float32(cfg.Watchdog().Seconds())
	}
	for _, opt := range opts {
		opt(p)
	}
	p.lastFeed = p.now()
	return p
}

// Axes returns the number of simulated axes.
func (p *Peer) Axes() int {
	return p.axes
}

// AxisState returns the current axis state.
func (p *Peer) AxisState() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkWatchdog()
	return p.intProps[PropAxisState]
}

// Positions returns the measured positions.
func (p *Peer) Positions() []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float32(nil), p.positions...)
}

// Statistics returns a snapshot of the receive statistics.
func (p *Peer) Statistics() tcproto.Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.stats
}

// Handle answers one request, building the response over buf. Responses
// from the other side are ignored and yield a nil packet.
func (p *Peer) Handle(req tcproto.View, buf []byte) (*tcproto.Packet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Update(req, nil, tcproto.ValidateView(req))
	if req.IsResponse() {
		p.log.Debug().Uint8("seq", req.Seq()).Msg("ignoring response frame")
		return nil, nil
	}
	p.checkWatchdog()

	sts, params := p.dispatch(req)
	if sts != tcproto.StsOK {
		p.log.Debug().
			Str("cmd", tcproto.FormatCommand(req.Opcode())).
			Uint8("seq", req.Seq()).
			Str("status", tcproto.FormatStatus(sts)).
			Msg("request refused")
	}
	resp, err := tcproto.RespondTo(buf, req, sts, params)
	if err != nil {
		// The echoed name did not fit next to the value
		return tcproto.RespondTo(buf, req, tcproto.StsErrParam, tcproto.Params{})
	}
	return resp, nil
}

func (p *Peer) dispatch(req tcproto.View) (uint8, tcproto.Params) {
	switch req.Opcode() {
	case tcproto.CmdPing:
		return tcproto.StsOK, tcproto.Params{}
	case tcproto.CmdPosition:
		return p.position(req, p.axes)
	case tcproto.CmdPosLimits:
		return p.position(req, 2*p.axes)
	case tcproto.CmdTrapTraj:
		sts, _ := p.position(req, p.axes)
		return sts, tcproto.Params{}
	case tcproto.CmdZeroEncoder:
		return p.zeroEncoder()
	case tcproto.CmdStatus:
		return tcproto.StsOK, p.status()
	case tcproto.CmdGetIProp:
		return p.getIProp(req)
	case tcproto.CmdGetFProp:
		return p.getFProp(req)
	case tcproto.CmdSetIProp:
		return p.setIProp(req)
	case tcproto.CmdSetFProp:
		return p.setFProp(req)
	case tcproto.CmdFeedWatchdog:
		p.lastFeed = p.now()
		return tcproto.StsOK, tcproto.Params{}
	default:
		return tcproto.StsErrCmd, tcproto.Params{}
	}
}

// position handles POSITION, POSLIMITS and TRAPTRAJ. want is the number
// of floats expected: positions, optionally followed by velocities.
func (p *Peer) position(req tcproto.View, want int) (uint8, tcproto.Params) {
	if req.NFloat() != want || req.NInt() != 0 || req.HasString() {
		return tcproto.StsErrParam, tcproto.Params{}
	}
	if p.intProps[PropAxisState] != AxisClosedLoop {
		return tcproto.StsErrState, tcproto.Params{}
	}
	floats := req.Floats()
	for _, f := range floats {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return tcproto.StsErrValue, tcproto.Params{}
		}
	}
	limit := p.floatProps[PropVelLimit]
	velocities := floats[p.axes:]
	for _, v := range velocities {
		if v > limit || v < -limit {
			return tcproto.StsErrValue, tcproto.Params{}
		}
	}

	copy(p.positions, floats[:p.axes])
	if len(velocities) > 0 {
		copy(p.velocities, velocities)
	} else {
		clear(p.velocities)
	}
	return tcproto.StsOK, tcproto.Params{Floats: append([]float32(nil), p.positions...)}
}

func (p *Peer) zeroEncoder() (uint8, tcproto.Params) {
	if p.intProps[PropAxisState] != AxisIdle {
		return tcproto.StsErrState, tcproto.Params{}
	}
	for i := range p.positions {
		p.offsets[i] += p.positions[i]
		p.positions[i] = 0
	}
	return tcproto.StsOK, tcproto.Params{}
}

// status reports positions and velocities as floats, then axis state and
// error as ints.
func (p *Peer) status() tcproto.Params {
	floats := append(append([]float32(nil), p.positions...), p.velocities...)
	return tcproto.Params{
		Floats: floats,
		Ints:   []int32{p.intProps[PropAxisState], p.intProps[PropError]},
	}
}

func propName(req tcproto.View) (string, bool) {
	name, ok := req.StringParam()
	return name, ok && name != ""
}

func (p *Peer) getIProp(req tcproto.View) (uint8, tcproto.Params) {
	name, ok := propName(req)
	if !ok {
		return tcproto.StsErrParam, tcproto.Params{}
	}
	v, ok := p.intProps[name]
	if !ok {
		return tcproto.StsErrParam, tcproto.Params{}
	}
	return tcproto.StsOK, tcproto.Params{Ints: []int32{v}}.WithString(name)
}

func (p *Peer) getFProp(req tcproto.View) (uint8, tcproto.Params) {
	name, ok := propName(req)
	if !ok {
		return tcproto.StsErrParam, tcproto.Params{}
	}
	v, ok := p.floatProps[name]
	if !ok {
		return tcproto.StsErrParam, tcproto.Params{}
	}
	return tcproto.StsOK, tcproto.Params{Floats: []float32{v}}.WithString(name)
}

func (p *Peer) setIProp(req tcproto.View) (uint8, tcproto.Params) {
	name, ok := propName(req)
	if !ok || req.NInt() != 1 || req.NFloat() != 0 {
		return tcproto.StsErrParam, tcproto.Params{}
	}
	if _, ok := p.intProps[name]; !ok {
		return tcproto.StsErrParam, tcproto.Params{}
	}
	v, _ := req.IntAt(0)
	if err := checkInt(name, v); err != nil {
		p.log.Debug().Err(err).Str("prop", name).Msg("rejected value")
		return tcproto.StsErrValue, tcproto.Params{}
	}

	if name == PropAxisState {
		if v == AxisClosedLoop && p.intProps[PropError] != 0 {
			return tcproto.StsErrState, tcproto.Params{}
		}
		// Entering closed loop starts a fresh watchdog period
		p.lastFeed = p.now()
		if v == AxisIdle {
			clear(p.velocities)
		}
	}
	p.intProps[name] = v
	return tcproto.StsOK, tcproto.Params{Ints: []int32{v}}.WithString(name)
}

func (p *Peer) setFProp(req tcproto.View) (uint8, tcproto.Params) {
	name, ok := propName(req)
	if !ok || req.NFloat() != 1 || req.NInt() != 0 {
		return tcproto.StsErrParam, tcproto.Params{}
	}
	if _, ok := p.floatProps[name]; !ok {
		return tcproto.StsErrParam, tcproto.Params{}
	}
	v, _ := req.FloatAt(0)
	if err := checkFloat(name, v); err != nil {
		p.log.Debug().Err(err).Str("prop", name).Msg("rejected value")
		return tcproto.StsErrValue, tcproto.Params{}
	}
	p.floatProps[name] = v
	return tcproto.StsOK, tcproto.Params{Floats: []float32{v}}.WithString(name)
}

// checkWatchdog drops the axes to idle when the watchdog has expired.
// Caller holds mu.
func (p *Peer) checkWatchdog() {
	timeout := p.floatProps[PropWatchdogTimeout]
	if timeout <= 0 || p.intProps[PropAxisState] != AxisClosedLoop {
		return
	}
	deadline := p.lastFeed.Add(time.Duration(float64(timeout) * float64(time.Second)))
	if p.now().After(deadline) {
		p.log.Warn().Float32("timeout", timeout).Msg("watchdog expired, axes idle")
		p.intProps[PropAxisState] = AxisIdle
		p.intProps[PropError] = 1
		clear(p.velocities)
	}
}
