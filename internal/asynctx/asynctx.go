// Package asynctx funnels writes to a slow or blocking sink (a serial port,
// a raw CAN socket) through a single goroutine, so producers never block
// behind device I/O.
package asynctx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Send once Close has been called.
var ErrClosed = errors.New("asynctx: closed")

// Hooks customize AsyncTx behavior without it needing to know about metrics
// or logging.
type Hooks[T any] struct {
	// OnError is called when send returns a non-nil error (item not sent).
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is
	// returned from Send. If nil, the overflow is silent.
	OnDrop func() error
}

// AsyncTx is a reusable, generic, single-writer-goroutine transmit queue.
// It provides non-blocking enqueue semantics: if the internal buffer is
// full, Send invokes the configured OnDrop hook and returns its error
// instead of blocking the caller behind a slow or wedged device.
type AsyncTx[T any] struct {
	mu     sync.Mutex
	ch     chan T
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(T) error
	hooks  Hooks[T]
	closed atomic.Bool
}

// New constructs an AsyncTx with a buffered channel of size buf, funneling
// every accepted item through send on a single background goroutine.
func New[T any](parent context.Context, buf int, send func(T) error, hooks Hooks[T]) *AsyncTx[T] {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx[T]{
		ch:     make(chan T, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx[T]) loop() {
	defer a.wg.Done()
	for {
		select {
		case item, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(item); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Send queues item for asynchronous transmission, or invokes OnDrop (and
// returns its error) if the buffer is full. Returns ErrClosed after Close.
func (a *AsyncTx[T]) Send(item T) error {
	if a.closed.Load() {
		return ErrClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrClosed
	}
	select {
	case a.ch <- item:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker goroutine and waits for it to exit.
func (a *AsyncTx[T]) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
