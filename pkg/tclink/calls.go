// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tclink

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/tcscope/pkg/tcproto"
)

// Ping sends a PING and returns the round trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.Request(ctx, tcproto.CmdPing, tcproto.Params{}); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Status requests the robot status. The layout of the response tail is
// defined by the peer and returned as is.
func (c *Client) Status(ctx context.Context) (tcproto.View, error) {
	return c.Request(ctx, tcproto.CmdStatus, tcproto.Params{})
}

// GetIProp reads an integer property.
func (c *Client) GetIProp(ctx context.Context, name string) (int32, error) {
	v, err := c.Request(ctx, tcproto.CmdGetIProp, tcproto.Params{}.WithString(name))
	if err != nil {
		return 0, err
	}
	i, err := v.IntAt(0)
	if err != nil {
		return 0, fmt.Errorf("%w: GETIPROP %q: %v", ErrBadResponse, name, err)
	}
	return i, nil
}

// GetFProp reads a float property.
func (c *Client) GetFProp(ctx context.Context, name string) (float32, error) {
	v, err := c.Request(ctx, tcproto.CmdGetFProp, tcproto.Params{}.WithString(name))
	if err != nil {
		return 0, err
	}
	f, err := v.FloatAt(0)
	if err != nil {
		return 0, fmt.Errorf("%w: GETFPROP %q: %v", ErrBadResponse, name, err)
	}
	return f, nil
}

// SetIProp writes an integer property.
func (c *Client) SetIProp(ctx context.Context, name string, value int32) error {
	_, err := c.Request(ctx, tcproto.CmdSetIProp, tcproto.Params{Ints: []int32{value}}.WithString(name))
	return err
}

// SetFProp writes a float property.
func (c *Client) SetFProp(ctx context.Context, name string, value float32) error {
	_, err := c.Request(ctx, tcproto.CmdSetFProp, tcproto.Params{Floats: []float32{value}}.WithString(name))
	return err
}

// Position commands one position per axis and returns the measured
// positions reported back.
func (c *Client) Position(ctx context.Context, positions ...float32) ([]float32, error) {
	v, err := c.Request(ctx, tcproto.CmdPosition, tcproto.Params{Floats: positions})
	if err != nil {
		return nil, err
	}
	return v.Floats(), nil
}

// PosLimits commands positions followed by their velocity feedforward
// values. len(positions) must equal len(velocities).
func (c *Client) PosLimits(ctx context.Context, positions, velocities []float32) ([]float32, error) {
	if len(positions) != len(velocities) {
		return nil, fmt.Errorf("tclink: %d positions but %d velocities", len(positions), len(velocities))
	}
	floats := append(append([]float32(nil), positions...), velocities...)
	v, err := c.Request(ctx, tcproto.CmdPosLimits, tcproto.Params{Floats: floats})
	if err != nil {
		return nil, err
	}
	return v.Floats(), nil
}

// TrapTraj starts a trapezoidal move to the given targets.
func (c *Client) TrapTraj(ctx context.Context, targets ...float32) error {
	_, err := c.Request(ctx, tcproto.CmdTrapTraj, tcproto.Params{Floats: targets})
	return err
}

// ZeroEncoder zeroes the encoders. The peer refuses unless the motors are
// idle.
func (c *Client) ZeroEncoder(ctx context.Context) error {
	_, err := c.Request(ctx, tcproto.CmdZeroEncoder, tcproto.Params{})
	return err
}

// FeedWatchdog feeds the peer watchdog once.
func (c *Client) FeedWatchdog(ctx context.Context) error {
	_, err := c.Request(ctx, tcproto.CmdFeedWatchdog, tcproto.Params{})
	return err
}
