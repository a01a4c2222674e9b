// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tcsim

import (
	"fmt"
	"math"
)

// Axis states, numbered like the drive firmware.
const (
	AxisIdle       int32 = 1
	AxisClosedLoop int32 = 8
)

// Property names with behaviour attached in the simulator.
const (
	PropAxisState       = "axis_state"
	PropControlMode     = "control_mode"
	PropError           = "error"
	PropVelLimit        = "vel_limit"
	PropCurrentLim      = "current_lim"
	PropPosGain         = "pos_gain"
	PropVelGain         = "vel_gain"
	PropWatchdogTimeout = "watchdog_timeout"
)

const maxCurrentLim = 60

func defaultIntProps() map[string]int32 {
	return map[string]int32{
		PropAxisState:   AxisIdle,
		PropControlMode: 3,
		PropError:       0,
	}
}

func defaultFloatProps() map[string]float32 {
	return map[string]float32{
		PropVelLimit:        20,
		PropCurrentLim:      10,
		PropPosGain:         20,
		PropVelGain:         0.16,
		PropWatchdogTimeout: 0,
	}
}

// checkInt validates a value written to an integer property.
func checkInt(name string, v int32) error {
	switch name {
	case PropAxisState:
		if v != AxisIdle && v != AxisClosedLoop {
			return fmt.Errorf("axis state %d not supported", v)
		}
	case PropControlMode:
		if v < 0 || v > 3 {
			return fmt.Errorf("control mode %d out of range", v)
		}
	case PropError:
		if v != 0 {
			return fmt.Errorf("error can only be cleared")
		}
	}
	return nil
}

// checkFloat validates a value written to a float property.
func checkFloat(name string, v float32) error {
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return fmt.Errorf("%s must be finite", name)
	}
	switch name {
	case PropVelLimit:
		if v <= 0 {
			return fmt.Errorf("vel_limit must be positive")
		}
	case PropCurrentLim:
		if v <= 0 || v > maxCurrentLim {
			return fmt.Errorf("current_lim must be in (0, %d]", maxCurrentLim)
		}
	case PropPosGain, PropVelGain, PropWatchdogTimeout:
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}
