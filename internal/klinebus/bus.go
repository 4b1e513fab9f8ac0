// Package klinebus bridges the pure internal/kline frame codec to a real
// K-Line UART over a serial port.
package klinebus

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/kstaniek/canyonero/internal/asynctx"
	"github.com/kstaniek/canyonero/internal/kline"
	"github.com/kstaniek/canyonero/internal/logging"
	"github.com/kstaniek/canyonero/internal/metrics"
)

// ErrTxOverflow is returned by SendFrame when the async write queue is full.
var ErrTxOverflow = errors.New("klinebus: tx overflow")

// reclaimThreshold bounds the RX accumulation buffer's retained capacity:
// once drained and grown past this, it is reallocated rather than kept.
const reclaimThreshold = 16 * 1024

// Bus owns one serial port and funnels writes through a single goroutine.
type Bus struct {
	port  Port
	tx    *asynctx.AsyncTx[[]byte]
	mode  kline.Mode
	smode kline.SplitMode
}

// OpenBus opens the K-Line UART at device/baud and returns a ready-to-use
// Bus. txQueueSize bounds the number of queued outbound frames before
// SendFrame starts returning ErrTxOverflow.
func OpenBus(ctx context.Context, device string, baud int, readTimeout time.Duration, mode kline.Mode, smode kline.SplitMode, txQueueSize int) (*Bus, error) {
	port, err := Open(device, baud, readTimeout)
	if err != nil {
		return nil, err
	}
	return NewBus(ctx, port, mode, smode, txQueueSize), nil
}

// NewBus wraps an already-open Port in a Bus, starting its async write
// worker. Exposed separately from OpenBus so tests can drive a Bus against a
// fake Port.
func NewBus(ctx context.Context, port Port, mode kline.Mode, smode kline.SplitMode, txQueueSize int) *Bus {
	b := &Bus{port: port, mode: mode, smode: smode}
	send := func(frame []byte) error {
		_, err := port.Write(frame)
		return err
	}
	hooks := asynctx.Hooks[[]byte]{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrKLineWrite)
			logging.L().Error("kline_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncKLineTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrKLineOverflow)
			return ErrTxOverflow
		},
	}
	b.tx = asynctx.New(ctx, txQueueSize, send, hooks)
	return b
}

// Write synchronously writes frame to the wire, bypassing the async queue.
// Used by callers (e.g. request/response exchanges) that need to know the
// write happened before proceeding.
func (b *Bus) Write(frame []byte) error {
	_, err := b.port.Write(frame)
	if err == nil {
		metrics.IncKLineTx()
	}
	return err
}

// SendFrame queues frame for asynchronous write (drops with ErrTxOverflow
// if the buffer is full).
func (b *Bus) SendFrame(frame []byte) error { return b.tx.Send(frame) }

// Close stops the async writer and closes the underlying port.
func (b *Bus) Close() error {
	b.tx.Close()
	return b.port.Close()
}

// Run pulls bytes from the serial port, splits complete K-Line frames out of
// the accumulated stream with internal/kline.Split, and invokes onFrame for
// each. It blocks until ctx is done or the port returns a fatal error. Reads
// that merely time out (the normal case when no bus traffic is pending) are
// not treated as errors.
func (b *Bus) Run(ctx context.Context, onFrame func([]byte)) error {
	buf := make([]byte, 4096)
	acc := bytes.NewBuffer(nil)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := b.port.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			metrics.IncKLineRx()
			frames := kline.Split(acc.Bytes(), b.mode, b.smode)
			var consumed int
			for _, f := range frames {
				onFrame(f)
				consumed += len(f)
			}
			acc.Next(consumed)
			if acc.Len() == 0 && cap(acc.Bytes()) > reclaimThreshold {
				acc = bytes.NewBuffer(nil)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isTimeout(err) {
				continue
			}
			return err
		}
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}
