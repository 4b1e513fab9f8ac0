package canbus

import (
	"context"
	"errors"

	"github.com/kstaniek/canyonero/internal/asynctx"
	"github.com/kstaniek/canyonero/internal/logging"
	"github.com/kstaniek/canyonero/internal/metrics"
)

// ErrTxOverflow is returned by SendFrame when the async write queue is full.
var ErrTxOverflow = errors.New("canbus: tx overflow")

// Dev is the minimal interface needed by Bus; implemented by *Device in
// production and by fakes in tests.
type Dev interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
	Close() error
}

// Bus owns one SocketCAN device and funnels writes through a single
// goroutine, the way internal/klinebus.Bus does for the serial backend.
type Bus struct {
	dev Dev
	tx  *asynctx.AsyncTx[Frame]
}

// OpenBus binds a raw CAN socket to iface and returns a ready-to-use Bus.
func OpenBus(ctx context.Context, iface string, txQueueSize int) (*Bus, error) {
	dev, err := Open(iface)
	if err != nil {
		return nil, err
	}
	return NewBus(ctx, dev, txQueueSize), nil
}

// NewBus wraps an already-open Dev in a Bus, starting its async write
// worker. Exposed separately from OpenBus so tests can drive a Bus against a
// fake Dev.
func NewBus(ctx context.Context, dev Dev, txQueueSize int) *Bus {
	b := &Bus{dev: dev}
	hooks := asynctx.Hooks[Frame]{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrCANWrite)
			logging.L().Error("can_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncCANTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrCANOverflow)
			return ErrTxOverflow
		},
	}
	b.tx = asynctx.New(ctx, txQueueSize, dev.WriteFrame, hooks)
	return b
}

// WriteFrame synchronously writes fr to the bus, bypassing the async queue.
func (b *Bus) WriteFrame(fr Frame) error {
	err := b.dev.WriteFrame(fr)
	if err == nil {
		metrics.IncCANTx()
	}
	return err
}

// SendFrame queues fr for asynchronous write (drops with ErrTxOverflow if
// the buffer is full).
func (b *Bus) SendFrame(fr Frame) error { return b.tx.Send(fr) }

// Close stops the async writer and closes the underlying device.
func (b *Bus) Close() error {
	b.tx.Close()
	return b.dev.Close()
}

// Run reads frames from the device until ctx is done or the device returns
// a fatal error, invoking onFrame for each one received.
func (b *Bus) Run(ctx context.Context, onFrame func(Frame)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		fr, err := b.dev.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		metrics.IncCANRx()
		onFrame(fr)
	}
}
