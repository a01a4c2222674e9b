// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture reads and writes frame capture files.
//
// A capture file is a stream of CBOR items: one Header followed by any
// number of Records. Frames are stored exactly as they appeared on the
// wire, including frames that failed validation.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	Magic   = "tcscope-capture"
	Version = 1
)

var (
	ErrFormat  = errors.New("capture: not a capture file")
	ErrVersion = errors.New("capture: unsupported version")
)

// Direction tells which side sent a frame.
type Direction uint8

const (
	DirRx Direction = iota // Received from the peer
	DirTx                  // Sent by tcscope
)

func (d Direction) String() string {
	switch d {
	case DirRx:
		return "RX"
	case DirTx:
		return "TX"
	default:
		return fmt.Sprintf("DIR(%d)", uint8(d))
	}
}

// Header is the first item in a capture file.
type Header struct {
	Magic   string    `cbor:"1,keyasint"`
	Version int       `cbor:"2,keyasint"`
	Started time.Time `cbor:"3,keyasint"`
	Source  string    `cbor:"4,keyasint,omitempty"` // Port or URL
}

// Record is one captured frame.
type Record struct {
	Time      time.Time `cbor:"1,keyasint"`
	Direction Direction `cbor:"2,keyasint"`
	Frame     []byte    `cbor:"3,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

// Writer appends records to a capture stream. It is safe for concurrent
// use.
type Writer struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewWriter writes the header for source to w and returns a Writer.
func NewWriter(w io.Writer, source string) (*Writer, error) {
	enc := encMode.NewEncoder(w)
	hdr := Header{Magic: Magic, Version: Version, Started: time.Now(), Source: source}
	if err := enc.Encode(hdr); err != nil {
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}
	return &Writer{enc: enc}, nil
}

// Write appends one frame. frame is copied by the encoder.
func (w *Writer) Write(ts time.Time, dir Direction, frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(Record{Time: ts, Direction: dir, Frame: frame}); err != nil {
		return fmt.Errorf("failed to write capture record: %w", err)
	}
	return nil
}

// Reader iterates the records of a capture stream.
type Reader struct {
	dec    *cbor.Decoder
	header Header
}

// NewReader reads and checks the header from r.
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(r)
	var hdr Header
	if err := dec.Decode(&hdr); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty input", ErrFormat)
		}
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if hdr.Magic != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrFormat, hdr.Magic)
	}
	if hdr.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, hdr.Version)
	}
	return &Reader{dec: dec, header: hdr}, nil
}

// Header returns the file header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read capture record: %w", err)
	}
	return rec, nil
}

// ReadAll returns every remaining record.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
