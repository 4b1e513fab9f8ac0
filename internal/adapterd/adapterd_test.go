package adapterd

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/canyonero/internal/canbus"
	"github.com/kstaniek/canyonero/internal/config"
	"github.com/kstaniek/canyonero/internal/kline"
	"github.com/kstaniek/canyonero/internal/klinebus"
	"github.com/kstaniek/canyonero/internal/pdu"
)

// fakePort is a no-traffic K-Line UART stub: writes are captured, reads
// always report a timeout until closed, mirroring internal/klinebus's own
// test fake.
type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }

type fakePort struct {
	mu     sync.Mutex
	wrote  [][]byte
	closed bool
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, errors.New("closed")
	}
	return 0, timeoutErr{}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	p.wrote = append(p.wrote, cp)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.wrote))
	copy(out, p.wrote)
	return out
}

// fakeDev is a no-traffic SocketCAN stub.
type fakeDev struct {
	mu     sync.Mutex
	wrote  []canbus.Frame
	rx     chan canbus.Frame
	closed bool
}

func newFakeDev() *fakeDev { return &fakeDev{rx: make(chan canbus.Frame, 8)} }

func (d *fakeDev) ReadFrame() (canbus.Frame, error) {
	fr, ok := <-d.rx
	if !ok {
		return canbus.Frame{}, errors.New("closed")
	}
	return fr, nil
}

func (d *fakeDev) WriteFrame(fr canbus.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wrote = append(d.wrote, fr)
	return nil
}

func (d *fakeDev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.rx)
	}
	return nil
}

func (d *fakeDev) writes() []canbus.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]canbus.Frame, len(d.wrote))
	copy(out, d.wrote)
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		ListenAddr:          ":0",
		KLineDevice:         "/dev/null",
		KLineBaud:           10400,
		KLineReadTimeout:    50 * time.Millisecond,
		CANInterface:        "vcan0",
		MaxPeriodicMessages: 2,
	}
}

func newTestServer(t *testing.T, port *fakePort, dev *fakeDev) *Server {
	t.Helper()
	opts := []ServerOption{
		WithKLineOpener(func(ctx context.Context, device string, baud int, readTimeout time.Duration, smode kline.SplitMode) (*klinebus.Bus, error) {
			return klinebus.NewBus(ctx, port, kline.ModeKWP, smode, 8), nil
		}),
		WithCANOpener(func(ctx context.Context, iface string) (*canbus.Bus, error) {
			return canbus.NewBus(ctx, dev, 8), nil
		}),
	}
	return NewServer(testConfig(), opts...)
}

func dial(t *testing.T, ctx context.Context, addr string) net.Conn {
	t.Helper()
	d := net.Dialer{Timeout: 1 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, req pdu.PDU) pdu.PDU {
	t.Helper()
	out, err := req.Encode()
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	if _, err := conn.Write(out); err != nil {
		t.Fatalf("write request: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	acc := bytes.NewBuffer(nil)
	for {
		frameLen, ok := pdu.Probe(acc.Bytes())
		if ok {
			frame := make([]byte, frameLen)
			copy(frame, acc.Bytes()[:frameLen])
			reply, err := pdu.Decode(frame)
			if err != nil {
				t.Fatalf("decode reply: %v", err)
			}
			return reply
		}
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		acc.Write(buf[:n])
	}
}

func startServer(t *testing.T, srv *Server) (context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()
	select {
	case <-srv.Ready():
	case <-time.After(1 * time.Second):
		t.Fatalf("server did not signal readiness")
	}
	return ctx, cancel
}

func TestPingPong(t *testing.T) {
	srv := newTestServer(t, &fakePort{}, newFakeDev())
	ctx, cancel := startServer(t, srv)
	defer cancel()

	conn := dial(t, ctx, srv.Addr())
	defer conn.Close()

	reply := roundTrip(t, conn, pdu.Ping([]byte{0xAA, 0xBB}))
	if reply.Type() != pdu.TypePong {
		t.Fatalf("expected Pong, got %v", reply.Type())
	}
	payload, _ := reply.DataSlice()
	if !bytes.Equal(payload, []byte{0xAA, 0xBB}) {
		t.Fatalf("expected echoed payload, got %v", payload)
	}
}

func TestRequestInfo(t *testing.T) {
	srv := newTestServer(t, &fakePort{}, newFakeDev())
	srv2opt := WithInfo(Info{Vendor: "Acme", Model: "X1", Hardware: "rev2", Serial: "SN1", Firmware: "1.0"})
	srv2opt(srv)
	ctx, cancel := startServer(t, srv)
	defer cancel()

	conn := dial(t, ctx, srv.Addr())
	defer conn.Close()

	reply := roundTrip(t, conn, pdu.RequestInfo())
	if reply.Type() != pdu.TypeInfo {
		t.Fatalf("expected Info, got %v", reply.Type())
	}
}

func TestReadVoltage(t *testing.T) {
	srv := newTestServer(t, &fakePort{}, newFakeDev())
	WithVoltageReader(func() uint16 { return 12600 })(srv)
	ctx, cancel := startServer(t, srv)
	defer cancel()

	conn := dial(t, ctx, srv.Addr())
	defer conn.Close()

	reply := roundTrip(t, conn, pdu.ReadVoltage())
	if reply.Type() != pdu.TypeVoltage {
		t.Fatalf("expected Voltage, got %v", reply.Type())
	}
}

func TestOpenCloseChannel(t *testing.T) {
	srv := newTestServer(t, &fakePort{}, newFakeDev())
	ctx, cancel := startServer(t, srv)
	defer cancel()

	conn := dial(t, ctx, srv.Addr())
	defer conn.Close()

	reply := roundTrip(t, conn, pdu.OpenChannel(pdu.ProtocolKWP2000))
	if reply.Type() != pdu.TypeChannelOpened {
		t.Fatalf("expected ChannelOpened, got %v", reply.Type())
	}
	h, err := reply.Channel()
	if err != nil {
		t.Fatalf("channel: %v", err)
	}

	reply2 := roundTrip(t, conn, pdu.CloseChannel(h))
	if reply2.Type() != pdu.TypeChannelClosed {
		t.Fatalf("expected ChannelClosed, got %v", reply2.Type())
	}

	reply3 := roundTrip(t, conn, pdu.CloseChannel(h))
	if reply3.Type() != pdu.TypeErrorInvalidChannel {
		t.Fatalf("expected ErrorInvalidChannel on double close, got %v", reply3.Type())
	}
}

func TestSendKLineChannel(t *testing.T) {
	port := &fakePort{}
	srv := newTestServer(t, port, newFakeDev())
	ctx, cancel := startServer(t, srv)
	defer cancel()

	conn := dial(t, ctx, srv.Addr())
	defer conn.Close()

	opened := roundTrip(t, conn, pdu.OpenChannel(pdu.ProtocolKWP2000))
	h, _ := opened.Channel()

	reply := roundTrip(t, conn, pdu.Send(h, []byte{0x01, 0x0C}))
	if reply.Type() != pdu.TypeSent {
		t.Fatalf("expected Sent, got %v", reply.Type())
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && len(port.writes()) == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if len(port.writes()) == 0 {
		t.Fatalf("expected a frame written to the K-Line port")
	}
}

func TestSendCANChannelRequiresArbitration(t *testing.T) {
	srv := newTestServer(t, &fakePort{}, newFakeDev())
	ctx, cancel := startServer(t, srv)
	defer cancel()

	conn := dial(t, ctx, srv.Addr())
	defer conn.Close()

	opened := roundTrip(t, conn, pdu.OpenChannel(pdu.ProtocolRawCAN))
	h, _ := opened.Channel()

	reply := roundTrip(t, conn, pdu.Send(h, []byte{0x01, 0x02}))
	if reply.Type() != pdu.TypeErrorInvalidChannel {
		t.Fatalf("expected ErrorInvalidChannel without arbitration, got %v", reply.Type())
	}

	arbReply := roundTrip(t, conn, pdu.SetArbitration(h, pdu.Arbitration{Request: 0x7E0, ReplyPattern: 0x7E8, ReplyMask: 0x7FF}))
	if arbReply.Type() != pdu.TypeArbitrationSet {
		t.Fatalf("expected ArbitrationSet, got %v", arbReply.Type())
	}

	sendReply := roundTrip(t, conn, pdu.Send(h, []byte{0x02, 0x01, 0x0C}))
	if sendReply.Type() != pdu.TypeSent {
		t.Fatalf("expected Sent after arbitration set, got %v", sendReply.Type())
	}
}

func TestStartEndPeriodicMessage(t *testing.T) {
	dev := newFakeDev()
	srv := newTestServer(t, &fakePort{}, dev)
	ctx, cancel := startServer(t, srv)
	defer cancel()

	conn := dial(t, ctx, srv.Addr())
	defer conn.Close()

	arb := pdu.Arbitration{Request: 0x123}
	reply := roundTrip(t, conn, pdu.StartPeriodicMessage(1, arb, []byte{0x01, 0x02}))
	if reply.Type() != pdu.TypePeriodicMessageStarted {
		t.Fatalf("expected PeriodicMessageStarted, got %v", reply.Type())
	}
	h, err := reply.PeriodicMessage()
	if err != nil {
		t.Fatalf("periodic handle: %v", err)
	}

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) && len(dev.writes()) < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if len(dev.writes()) < 2 {
		t.Fatalf("expected repeated periodic writes, got %d", len(dev.writes()))
	}

	endReply := roundTrip(t, conn, pdu.EndPeriodicMessage(h))
	if endReply.Type() != pdu.TypePeriodicMessageEnded {
		t.Fatalf("expected PeriodicMessageEnded, got %v", endReply.Type())
	}
}

func TestPeriodicMessageLimitEnforced(t *testing.T) {
	dev := newFakeDev()
	srv := newTestServer(t, &fakePort{}, dev) // testConfig caps MaxPeriodicMessages at 2
	ctx, cancel := startServer(t, srv)
	defer cancel()

	conn := dial(t, ctx, srv.Addr())
	defer conn.Close()

	arb := pdu.Arbitration{Request: 0x321}
	for i := 0; i < 2; i++ {
		reply := roundTrip(t, conn, pdu.StartPeriodicMessage(5, arb, []byte{0x01}))
		if reply.Type() != pdu.TypePeriodicMessageStarted {
			t.Fatalf("expected PeriodicMessageStarted on #%d, got %v", i, reply.Type())
		}
	}
	reply := roundTrip(t, conn, pdu.StartPeriodicMessage(5, arb, []byte{0x01}))
	if reply.Type() != pdu.TypeErrorInvalidPeriod {
		t.Fatalf("expected ErrorInvalidPeriod once limit is reached, got %v", reply.Type())
	}
}

func TestUpdateSequence(t *testing.T) {
	srv := newTestServer(t, &fakePort{}, newFakeDev())
	ctx, cancel := startServer(t, srv)
	defer cancel()

	conn := dial(t, ctx, srv.Addr())
	defer conn.Close()

	if r := roundTrip(t, conn, pdu.PrepareForUpdate()); r.Type() != pdu.TypeUpdateStartedSendData {
		t.Fatalf("expected UpdateStartedSendData, got %v", r.Type())
	}
	if r := roundTrip(t, conn, pdu.SendUpdateData([]byte{1, 2, 3})); r.Type() != pdu.TypeUpdateDataReceived {
		t.Fatalf("expected UpdateDataReceived, got %v", r.Type())
	}
	if r := roundTrip(t, conn, pdu.CommitUpdate()); r.Type() != pdu.TypeUpdateCompleted {
		t.Fatalf("expected UpdateCompleted, got %v", r.Type())
	}
}

func TestResetClearsChannelsAndPeriodics(t *testing.T) {
	dev := newFakeDev()
	srv := newTestServer(t, &fakePort{}, dev)
	ctx, cancel := startServer(t, srv)
	defer cancel()

	conn := dial(t, ctx, srv.Addr())
	defer conn.Close()

	opened := roundTrip(t, conn, pdu.OpenChannel(pdu.ProtocolKWP2000))
	h, _ := opened.Channel()

	if r := roundTrip(t, conn, pdu.Reset()); r.Type() != pdu.TypeResetting {
		t.Fatalf("expected Resetting, got %v", r.Type())
	}

	closeReply := roundTrip(t, conn, pdu.CloseChannel(h))
	if closeReply.Type() != pdu.TypeErrorInvalidChannel {
		t.Fatalf("expected the channel to be gone after reset, got %v", closeReply.Type())
	}
}

func TestSecondTesterConnectionRejected(t *testing.T) {
	srv := newTestServer(t, &fakePort{}, newFakeDev())
	ctx, cancel := startServer(t, srv)
	defer cancel()

	conn1 := dial(t, ctx, srv.Addr())
	defer conn1.Close()

	// Give the server a moment to register the first connection.
	reply := roundTrip(t, conn1, pdu.Ping(nil))
	if reply.Type() != pdu.TypePong {
		t.Fatalf("expected Pong on first connection, got %v", reply.Type())
	}

	conn2 := dial(t, ctx, srv.Addr())
	defer conn2.Close()
	_ = conn2.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 8)
	if _, err := conn2.Read(buf); err == nil {
		t.Fatalf("expected second connection to be closed immediately")
	}
}

func TestGracefulShutdown(t *testing.T) {
	srv := newTestServer(t, &fakePort{}, newFakeDev())
	ctx, cancel := startServer(t, srv)
	defer cancel()

	conn := dial(t, ctx, srv.Addr())
	defer conn.Close()

	reply := roundTrip(t, conn, pdu.Ping(nil))
	if reply.Type() != pdu.TypePong {
		t.Fatalf("expected Pong, got %v", reply.Type())
	}

	sdCtx, sdCancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer sdCancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 8)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected connection to be closed after shutdown")
	}
}
