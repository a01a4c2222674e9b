// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tclink

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/tcscope/pkg/tcproto"
)

var (
	ErrClosed      = errors.New("tclink: client closed")
	ErrSeqInUse    = errors.New("tclink: sequence number already pending")
	ErrNotFinal    = errors.New("tclink: packet not finalized")
	ErrNotRequest  = errors.New("tclink: packet is a response")
	ErrBadResponse = errors.New("tclink: malformed response")
)

// StatusError is returned when the peer answers with a non-OK status.
type StatusError struct {
	Opcode uint8
	Status uint8
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tclink: %s failed: %s", tcproto.FormatCommand(e.Opcode), tcproto.FormatStatus(e.Status))
}

// IsStatus reports whether err is a StatusError carrying sts.
func IsStatus(err error, sts uint8) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == sts
}
