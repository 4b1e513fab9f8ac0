// Package adapterd is the TCP-facing adapter daemon: it accepts the tester
// connection, frames the byte stream with pdu.Probe, dispatches commands to
// channel/bus state, and serializes replies - the concrete program playing
// the "adapter" role from spec.md. Grounded on the teacher's internal/server
// package (accept loop, deadline handling, reader/writer goroutine split,
// sentinel-error wrapping via mapErrToMetric), restructured around
// CANyonero's one-tester-at-a-time request/reply shape instead of the
// teacher's multi-client broadcast hub.
package adapterd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kstaniek/canyonero/internal/canbus"
	"github.com/kstaniek/canyonero/internal/config"
	"github.com/kstaniek/canyonero/internal/handle"
	"github.com/kstaniek/canyonero/internal/klinebus"
	"github.com/kstaniek/canyonero/internal/kline"
	"github.com/kstaniek/canyonero/internal/logging"
	"github.com/kstaniek/canyonero/internal/metrics"
	"github.com/kstaniek/canyonero/internal/update"
)

// Info holds the static identification fields returned by requestInfo.
type Info struct {
	Vendor, Model, Hardware, Serial, Firmware string
}

// KLineOpener opens the K-Line bus backend; overridden in tests with a fake.
type KLineOpener func(ctx context.Context, device string, baud int, readTimeout time.Duration, smode kline.SplitMode) (*klinebus.Bus, error)

// CANOpener opens the raw CAN bus backend; overridden in tests with a fake.
type CANOpener func(ctx context.Context, iface string) (*canbus.Bus, error)

const (
	defaultTxQueueSize  = 64
	klineReplyWindow    = 150 * time.Millisecond
	klineReplyPollEvery = 5 * time.Millisecond
)

func defaultKLineOpener(ctx context.Context, device string, baud int, readTimeout time.Duration, smode kline.SplitMode) (*klinebus.Bus, error) {
	return klinebus.OpenBus(ctx, device, baud, readTimeout, kline.ModeKWP, smode, defaultTxQueueSize)
}

func defaultCANOpener(ctx context.Context, iface string) (*canbus.Bus, error) {
	return canbus.OpenBus(ctx, iface, defaultTxQueueSize)
}

// Server is the single-tester adapter daemon.
type Server struct {
	cfg    *config.Config
	info   Info
	logger *slog.Logger

	readVoltage func() uint16
	applier     update.Applier
	splitMode   kline.SplitMode

	klineOpen KLineOpener
	canOpen   CANOpener

	mu       sync.Mutex
	addr     string
	listener net.Listener
	conn     net.Conn

	channels  map[byte]*Channel
	chAlloc   *handle.Allocator
	periodics map[byte]*periodicMessage
	pAlloc    *handle.Allocator

	klBus *klinebus.Bus
	canBus *canbus.Bus
	klRx  chan []byte

	wg sync.WaitGroup

	readyOnce sync.Once
	readyCh   chan struct{}
}

// ServerOption customizes a Server at construction time.
type ServerOption func(*Server)

func WithInfo(info Info) ServerOption { return func(s *Server) { s.info = info } }

func WithVoltageReader(fn func() uint16) ServerOption {
	return func(s *Server) {
		if fn != nil {
			s.readVoltage = fn
		}
	}
}

func WithApplier(a update.Applier) ServerOption {
	return func(s *Server) {
		if a != nil {
			s.applier = a
		}
	}
}

func WithSplitMode(m kline.SplitMode) ServerOption { return func(s *Server) { s.splitMode = m } }

func WithKLineOpener(o KLineOpener) ServerOption {
	return func(s *Server) {
		if o != nil {
			s.klineOpen = o
		}
	}
}

func WithCANOpener(o CANOpener) ServerOption {
	return func(s *Server) {
		if o != nil {
			s.canOpen = o
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer builds a Server from cfg, applying opts over the defaults.
func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      logging.L(),
		readVoltage: func() uint16 { return 0 },
		applier:     update.NewNoopApplier(),
		splitMode:   kline.SplitModeSixBit,
		klineOpen:   defaultKLineOpener,
		canOpen:     defaultCANOpener,
		addr:        cfg.ListenAddr,
		channels:    make(map[byte]*Channel),
		chAlloc:     handle.New(),
		periodics:   make(map[byte]*periodicMessage),
		pAlloc:      handle.New(),
		readyCh:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Addr returns the listener's bound address, valid once Serve has started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Ready closes once the listener is bound and accepting.
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Serve accepts tester connections until ctx is cancelled. CANyonero is a
// one-tester-at-a-time protocol: a second connection attempt is refused
// immediately and counted via metrics.IncTesterRejected.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		return wrap
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("adapterd_listening", "addr", s.Addr())

	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		return wrap
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		metrics.IncTesterRejected()
		s.logger.Warn("tester_rejected_already_connected", "remote", conn.RemoteAddr().String())
		_ = conn.Close()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	metrics.IncTesterConnection()
	connLogger := s.logger.With("remote", conn.RemoteAddr().String())
	connLogger.Info("tester_connected")
	s.handleConn(ctx, conn, connLogger)
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	replies := make(chan []byte, 8)
	connCtx, cancel := context.WithCancel(ctx)

	s.wg.Add(2)
	go s.startWriter(connCtx, conn, replies, logger)
	go s.startReader(connCtx, conn, replies, cancel, logger)

	go func() {
		<-connCtx.Done()
		_ = conn.Close()
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		logger.Info("tester_disconnected")
	}()
}

// Shutdown closes the listener and the active connection (if any) and waits
// for in-flight reader/writer goroutines to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	conn := s.conn
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.stopAllPeriodics()
	if s.klBus != nil {
		_ = s.klBus.Close()
	}
	if s.canBus != nil {
		_ = s.canBus.Close()
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		return nil
	}
}

func (s *Server) stopAllPeriodics() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, pm := range s.periodics {
		pm.stop()
		s.pAlloc.Release(h)
		delete(s.periodics, h)
	}
}

// ensureKLineBus lazily opens the shared K-Line backend on first use.
func (s *Server) ensureKLineBus(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.klBus != nil {
		return nil
	}
	b, err := s.klineOpen(ctx, s.cfg.KLineDevice, s.cfg.KLineBaud, s.cfg.KLineReadTimeout, s.splitMode)
	if err != nil {
		return err
	}
	s.klBus = b
	s.klRx = make(chan []byte, 32)
	go func() {
		_ = b.Run(ctx, func(f []byte) {
			select {
			case s.klRx <- f:
			default:
			}
		})
	}()
	return nil
}

// ensureCANBus lazily opens the shared SocketCAN backend on first use.
func (s *Server) ensureCANBus(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canBus != nil {
		return nil
	}
	b, err := s.canOpen(ctx, s.cfg.CANInterface)
	if err != nil {
		return err
	}
	s.canBus = b
	return nil
}
