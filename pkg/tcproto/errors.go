// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tcproto

import "errors"

// Decode errors. A frame failing any of these is dropped by the transport.
var (
	ErrShort  = errors.New("tcproto: packet shorter than header")
	ErrSeal   = errors.New("tcproto: seal mismatch")
	ErrLength = errors.New("tcproto: declared length exceeds buffer or maximum")
	ErrString = errors.New("tcproto: string parameter not NUL terminated")
	ErrCRC    = errors.New("tcproto: CRC mismatch")
)

// Encode errors. These indicate a caller bug.
var (
	ErrOrder     = errors.New("tcproto: parameter appended out of float, int, string order")
	ErrValue     = errors.New("tcproto: value out of range")
	ErrFinalized = errors.New("tcproto: packet already finalized")
)

// ErrIndex is returned by View accessors for an out-of-range parameter index.
var ErrIndex = errors.New("tcproto: parameter index out of range")
