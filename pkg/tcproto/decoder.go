// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tcproto

import "fmt"

// Decoder states (internal)
const (
	stateHunt = iota
	stateHeader
	stateTail
)

// Decoder reassembles frames from a raw byte stream such as a serial port.
//
// It hunts for the seal, collects the header, waits for the declared tail
// and then validates the frame with Parse. After a failed frame it drops
// the first collected byte and scans the rest again, so a false seal in
// line noise cannot swallow the real frame behind it.
type Decoder struct {
	state       int
	buffer      [MaxPacketSize]byte
	bufferIndex int
	total       int
	rawBuffer   []byte // Bytes skipped while hunting
	pending     []byte // Bytes queued for another scan after a failed frame
	pendingPos  int
}

// NewDecoder creates a new stream decoder
func NewDecoder() *Decoder {
	return &Decoder{
		rawBuffer: make([]byte, 0, MaxPacketSize),
	}
}

// Reset resets the decoder to hunt for a seal and drops queued bytes
func (d *Decoder) Reset() {
	d.pending = d.pending[:0]
	d.pendingPos = 0
	d.restart()
}

func (d *Decoder) restart() {
	d.state = stateHunt
	d.bufferIndex = 0
	d.total = 0
}

// GetRawBytes returns bytes discarded while hunting for a seal since the
// last complete frame. At most MaxPacketSize bytes are kept.
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// Synchronized reports whether the decoder is inside a frame.
func (d *Decoder) Synchronized() bool {
	return d.state != stateHunt
}

// DecodeByte processes one byte.
// Returns a view over a private copy of the frame once it is complete,
// nil while the frame is incomplete, or an error if the frame failed
// validation.
//
// Rescanning a failed frame can yield more than one result for a single
// input byte. The first is returned and the rest are held until Next or
// the following DecodeByte call.
func (d *Decoder) DecodeByte(b byte) (*View, error) {
	d.pending = append(d.pending, b)
	return d.Next()
}

// Next processes queued bytes until one of them completes or fails a frame.
// It returns nil, nil once the queue is empty.
func (d *Decoder) Next() (*View, error) {
	for d.pendingPos < len(d.pending) {
		b := d.pending[d.pendingPos]
		d.pendingPos++
		if d.pendingPos == len(d.pending) {
			d.pending = d.pending[:0]
			d.pendingPos = 0
		}
		if v, err := d.step(b); v != nil || err != nil {
			return v, err
		}
	}
	return nil, nil
}

func (d *Decoder) step(b byte) (*View, error) {
	switch d.state {
	case stateHunt:
		if b == SealBytes[d.bufferIndex] {
			d.buffer[d.bufferIndex] = b
			d.bufferIndex++
			if d.bufferIndex == len(SealBytes) {
				d.state = stateHeader
			}
			return nil, nil
		}
		d.skip(d.buffer[:d.bufferIndex]...)
		d.bufferIndex = 0
		if b == SealBytes[0] {
			d.buffer[0] = b
			d.bufferIndex = 1
		} else {
			d.skip(b)
		}
		return nil, nil

	case stateHeader:
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		if d.bufferIndex < HeaderSize {
			return nil, nil
		}
		d.total = HeaderSize + TailSize(int(d.buffer[OffNFloat]), int(d.buffer[OffNInt]), int(d.buffer[OffNStr]))
		if d.total > MaxPacketSize {
			total := d.total
			d.rescan()
			return nil, fmt.Errorf("%w: declared %d bytes, max %d", ErrLength, total, MaxPacketSize)
		}
		if d.total == HeaderSize {
			return d.complete()
		}
		d.state = stateTail
		return nil, nil

	case stateTail:
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		if d.bufferIndex < d.total {
			return nil, nil
		}
		return d.complete()

	default:
		state := d.state
		d.Reset()
		return nil, fmt.Errorf("invalid decoder state: %d", state)
	}
}

// Decode feeds data through DecodeByte and calls fn for every completed
// frame or frame error, in stream order.
func (d *Decoder) Decode(data []byte, fn func(*View, error)) {
	for _, b := range data {
		v, err := d.DecodeByte(b)
		for v != nil || err != nil {
			fn(v, err)
			v, err = d.Next()
		}
	}
}

func (d *Decoder) complete() (*View, error) {
	frame := make([]byte, d.total)
	copy(frame, d.buffer[:d.total])
	v, err := Parse(frame)
	if err != nil {
		d.rescan()
		return nil, err
	}
	d.restart()
	d.rawBuffer = d.rawBuffer[:0]
	return &v, nil
}

// rescan queues the collected bytes after the first one ahead of any bytes
// still waiting, then hunts again.
func (d *Decoder) rescan() {
	rest := d.pending[d.pendingPos:]
	queue := make([]byte, 0, d.bufferIndex-1+len(rest))
	queue = append(queue, d.buffer[1:d.bufferIndex]...)
	queue = append(queue, rest...)
	d.pending = queue
	d.pendingPos = 0
	d.restart()
}

func (d *Decoder) skip(b ...byte) {
	for _, c := range b {
		if len(d.rawBuffer) == MaxPacketSize {
			copy(d.rawBuffer, d.rawBuffer[1:])
			d.rawBuffer = d.rawBuffer[:MaxPacketSize-1]
		}
		d.rawBuffer = append(d.rawBuffer, c)
	}
}
