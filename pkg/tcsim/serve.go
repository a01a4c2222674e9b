// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tcsim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/tcscope/pkg/tcproto"
)

const watchdogPoll = 50 * time.Millisecond

// Serve decodes requests from rw and writes the responses back until ctx
// is done or the stream fails. Closing rw is left to the caller; a Read
// blocked at cancellation returns once the caller closes it.
func (p *Peer) Serve(ctx context.Context, rw io.ReadWriter) error {
	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go readChunks(rw, chunks, readErr, done)

	ticker := time.NewTicker(watchdogPoll)
	defer ticker.Stop()

	d := tcproto.NewDecoder()
	out := make([]byte, tcproto.MaxPacketSize)
	var writeErr error

	handle := func(v *tcproto.View, err error) {
		if writeErr != nil {
			return
		}
		if err != nil {
			p.mu.Lock()
			p.stats.Update(tcproto.View{}, err, nil)
			p.mu.Unlock()
			p.log.Debug().Err(err).Msg("dropped frame")
			return
		}
		resp, err := p.Handle(*v, out)
		if err != nil {
			p.log.Warn().Err(err).Msg("failed to build response")
			return
		}
		if resp == nil {
			return
		}
		if _, err := rw.Write(resp.Bytes()); err != nil {
			writeErr = fmt.Errorf("tcsim: write failed: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("tcsim: read failed: %w", err)
		case chunk := <-chunks:
			d.Decode(chunk, handle)
			if writeErr != nil {
				return writeErr
			}
		case <-ticker.C:
			// Expire the watchdog even when the host goes quiet
			p.mu.Lock()
			p.checkWatchdog()
			p.mu.Unlock()
		}
	}
}

// readChunks copies what rw returns onto chunks until a read fails or done
// is closed.
func readChunks(r io.Reader, chunks chan<- []byte, readErr chan<- error, done <-chan struct{}) {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case chunks <- chunk:
			case <-done:
				return
			}
		}
		if err != nil {
			readErr <- err
			return
		}
	}
}
