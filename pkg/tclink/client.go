// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tclink runs request/response exchanges with a motor drive over
// any byte stream.
package tclink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/tcscope/pkg/capture"
	"github.com/Thermoquad/tcscope/pkg/tcproto"
)

const unsolicitedBuffer = 32

type result struct {
	view tcproto.View
	err  error
}

type pending struct {
	opcode uint8
	ch     chan result
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default is the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithCapture records every frame sent and received.
func WithCapture(w *capture.Writer) Option {
	return func(c *Client) { c.capture = w }
}

// WithObserver calls fn for every decoded frame and every frame error,
// from the reader goroutine, before the frame is matched. fn must not
// block.
func WithObserver(fn func(v *tcproto.View, err error)) Option {
	return func(c *Client) { c.observer = fn }
}

// Client matches responses to requests by sequence number and opcode.
// Frames that match no pending request, including requests from the peer,
// are delivered on Unsolicited.
type Client struct {
	rw       io.ReadWriteCloser
	log      zerolog.Logger
	capture  *capture.Writer
	observer func(*tcproto.View, error)
	seq      SeqSource

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint8]*pending
	stats   *tcproto.Statistics
	err     error

	unsolicited chan tcproto.View
	done        chan struct{}
	readerDone  chan struct{}
	closeOnce   sync.Once
}

// NewClient starts a reader on rw and returns the client. Close releases
// rw.
func NewClient(rw io.ReadWriteCloser, opts ...Option) *Client {
	c := &Client{
		rw:          rw,
		log:         log.Logger,
		pending:     make(map[uint8]*pending),
		stats:       tcproto.NewStatistics(),
		unsolicited: make(chan tcproto.View, unsolicitedBuffer),
		done:        make(chan struct{}),
		readerDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

// Unsolicited returns frames that matched no pending request. The channel
// is closed when the client shuts down. Frames are dropped when nobody
// reads it.
func (c *Client) Unsolicited() <-chan tcproto.View {
	return c.unsolicited
}

// NextSeq allocates a sequence number for a caller-built packet.
func (c *Client) NextSeq() uint8 {
	return c.seq.Next()
}

// Statistics returns a snapshot of the receive statistics.
func (c *Client) Statistics() tcproto.Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.stats
}

// Done is closed once the client has shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the client shut down, or nil while it runs.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Do sends a finalized request and waits for its response. A response
// with a non-OK status is returned together with a *StatusError.
func (c *Client) Do(ctx context.Context, p *tcproto.Packet) (tcproto.View, error) {
	if !p.Finalized() {
		return tcproto.View{}, ErrNotFinal
	}
	if p.Cmd()&tcproto.RespBit != 0 {
		return tcproto.View{}, ErrNotRequest
	}

	seq := p.Seq()
	req := &pending{opcode: p.Cmd() & tcproto.OpcodeMask, ch: make(chan result, 1)}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return tcproto.View{}, err
	}
	if _, busy := c.pending[seq]; busy {
		c.mu.Unlock()
		return tcproto.View{}, fmt.Errorf("%w: %d", ErrSeqInUse, seq)
	}
	c.pending[seq] = req
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending[seq] == req {
			delete(c.pending, seq)
		}
		c.mu.Unlock()
	}()

	if err := c.Send(p); err != nil {
		return tcproto.View{}, err
	}

	select {
	case res := <-req.ch:
		return res.view, res.err
	case <-ctx.Done():
		return tcproto.View{}, ctx.Err()
	case <-c.done:
		// A response may have raced with shutdown
		select {
		case res := <-req.ch:
			return res.view, res.err
		default:
			return tcproto.View{}, c.Err()
		}
	}
}

// Request builds a request with the next sequence number and runs Do.
func (c *Client) Request(ctx context.Context, code uint8, params tcproto.Params) (tcproto.View, error) {
	p, err := tcproto.BuildRequest(make([]byte, tcproto.MaxPacketSize), code, c.seq.Next(), params)
	if err != nil {
		return tcproto.View{}, err
	}
	return c.Do(ctx, p)
}

// Send writes a finalized packet without waiting for a response.
func (c *Client) Send(p *tcproto.Packet) error {
	if !p.Finalized() {
		return ErrNotFinal
	}
	return c.write(p.Bytes())
}

// SendView writes an already validated frame, such as one relayed from
// another transport. Any response arrives on Unsolicited.
func (c *Client) SendView(v tcproto.View) error {
	if v.IsZero() {
		return ErrNotFinal
	}
	return c.write(v.Bytes())
}

func (c *Client) write(frame []byte) error {
	c.log.Trace().
		Str("cmd", tcproto.FormatCommand(frame[tcproto.OffCmd])).
		Uint8("seq", frame[tcproto.OffSeq]).
		Int("len", len(frame)).
		Msg("tx")
	// Recorded first so the response can never precede it in the capture
	c.record(capture.DirTx, frame)

	c.writeMu.Lock()
	_, err := c.rw.Write(frame)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("tclink: write failed: %w", err)
	}
	return nil
}

// Close stops the reader, closes the stream and fails pending requests
// with ErrClosed.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	err := c.rw.Close()
	<-c.readerDone
	return err
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Client) readLoop() {
	defer close(c.readerDone)
	defer close(c.unsolicited)

	d := tcproto.NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			d.Decode(buf[:n], c.handleFrame)
		}
		if err != nil {
			select {
			case <-c.done:
			default:
				if errors.Is(err, io.EOF) {
					c.log.Debug().Msg("stream closed by peer")
				} else {
					c.log.Warn().Err(err).Msg("read failed")
				}
				c.shutdown(fmt.Errorf("%w: %w", ErrClosed, err))
			}
			return
		}
	}
}

func (c *Client) handleFrame(v *tcproto.View, err error) {
	if c.observer != nil {
		c.observer(v, err)
	}
	if err != nil {
		c.mu.Lock()
		c.stats.Update(tcproto.View{}, err, nil)
		c.mu.Unlock()
		c.log.Debug().Err(err).Msg("dropped frame")
		return
	}

	c.record(capture.DirRx, v.Bytes())
	anomalies := tcproto.ValidateView(*v)

	c.mu.Lock()
	c.stats.Update(*v, nil, anomalies)
	var req *pending
	if v.IsResponse() {
		if p, ok := c.pending[v.Seq()]; ok && p.opcode == v.Opcode() {
			req = p
			delete(c.pending, v.Seq())
		}
	}
	c.mu.Unlock()

	c.log.Trace().
		Str("cmd", tcproto.FormatCommand(v.Cmd())).
		Bool("response", v.IsResponse()).
		Uint8("seq", v.Seq()).
		Str("status", tcproto.FormatStatus(v.Status())).
		Msg("rx")

	if req != nil {
		res := result{view: *v}
		if v.Status() != tcproto.StsOK {
			res.err = &StatusError{Opcode: v.Opcode(), Status: v.Status()}
		}
		req.ch <- res
		return
	}

	select {
	case c.unsolicited <- *v:
	default:
		c.log.Debug().Uint8("seq", v.Seq()).Msg("unsolicited frame dropped")
	}
}

func (c *Client) record(dir capture.Direction, frame []byte) {
	if c.capture == nil {
		return
	}
	if err := c.capture.Write(time.Now(), dir, frame); err != nil {
		c.log.Warn().Err(err).Msg("capture write failed")
	}
}
