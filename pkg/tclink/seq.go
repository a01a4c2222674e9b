// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tclink

import "sync/atomic"

// SeqSource hands out request sequence numbers, wrapping after 255.
type SeqSource struct {
	n atomic.Uint32
}

// Next returns the next sequence number.
func (s *SeqSource) Next() uint8 {
	return uint8(s.n.Add(1) - 1)
}
