// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tcproto

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalPackets    uint64
	ValidPackets    uint64
	Requests        uint64
	Responses       uint64
	CRCErrors       uint64
	SealErrors      uint64
	LengthErrors    uint64
	StringErrors    uint64
	DecodeErrors    uint64 // Anything not classified above
	Anomalies       uint64
	UnknownCommands uint64
	StatusErrors    uint64 // Responses with a non-OK status

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a frame and its errors.
// v is ignored when decodeErr is non-nil.
func (s *Statistics) Update(v View, decodeErr error, validationErrors []ValidationError) {
	s.TotalPackets++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		switch {
		case errors.Is(decodeErr, ErrCRC):
			s.CRCErrors++
		case errors.Is(decodeErr, ErrSeal):
			s.SealErrors++
		case errors.Is(decodeErr, ErrLength), errors.Is(decodeErr, ErrShort):
			s.LengthErrors++
		case errors.Is(decodeErr, ErrString):
			s.StringErrors++
		default:
			s.DecodeErrors++
		}
		return
	}

	if v.IsResponse() {
		s.Responses++
		if v.Status() != StsOK {
			s.StatusErrors++
		}
	} else {
		s.Requests++
	}

	if len(validationErrors) == 0 {
		s.ValidPackets++
		return
	}
	for _, err := range validationErrors {
		s.Anomalies++
		if err.Type == AnomalyUnknownCommand {
			s.UnknownCommands++
		}
	}
}

// FrameErrors returns the number of frames that failed to decode
func (s *Statistics) FrameErrors() uint64 {
	return s.CRCErrors + s.SealErrors + s.LengthErrors + s.StringErrors + s.DecodeErrors
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalPackets) / elapsed
		s.ErrorRate = float64(s.FrameErrors()+s.Anomalies) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalPackets == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalPackets)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalPackets)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidPackets, percent(s.ValidPackets))
	result += fmt.Sprintf("  Requests:         %5d\n", s.Requests)
	result += fmt.Sprintf("  Responses:        %5d\n", s.Responses)

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, percent(s.CRCErrors))
	}
	if s.SealErrors > 0 {
		result += fmt.Sprintf("Seal Errors:     %8d (%.1f%%)\n", s.SealErrors, percent(s.SealErrors))
	}
	if s.LengthErrors > 0 {
		result += fmt.Sprintf("Length Errors:   %8d (%.1f%%)\n", s.LengthErrors, percent(s.LengthErrors))
	}
	if s.StringErrors > 0 {
		result += fmt.Sprintf("String Errors:   %8d (%.1f%%)\n", s.StringErrors, percent(s.StringErrors))
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, percent(s.DecodeErrors))
	}
	if s.Anomalies > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", s.Anomalies)
		if s.UnknownCommands > 0 {
			result += fmt.Sprintf("  Unknown Cmds:     %5d\n", s.UnknownCommands)
		}
	}
	if s.StatusErrors > 0 {
		result += fmt.Sprintf("Status Errors:   %8d\n", s.StatusErrors)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
