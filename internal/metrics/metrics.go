package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/canyonero/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	KLineRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kline_rx_frames_total",
		Help: "Total K-Line frames decoded from the serial link.",
	})
	KLineTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kline_tx_frames_total",
		Help: "Total K-Line frames written to the serial link.",
	})
	CANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_rx_frames_total",
		Help: "Total frames read from the SocketCAN interface.",
	})
	CANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_tx_frames_total",
		Help: "Total frames written to the SocketCAN interface.",
	})
	PDURxTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdu_rx_total",
		Help: "Total PDUs received from the tester over TCP.",
	})
	PDUTxTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pdu_tx_total",
		Help: "Total PDUs sent to the tester over TCP.",
	})
	ChannelsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "channels_opened_total",
		Help: "Total channels opened by the tester.",
	})
	ChannelsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "channels_closed_total",
		Help: "Total channels explicitly closed by the tester.",
	})
	ChannelsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "channels_active",
		Help: "Current number of open channels.",
	})
	PeriodicActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "periodic_messages_active",
		Help: "Current number of registered periodic messages.",
	})
	TesterConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tester_connections_total",
		Help: "Total accepted tester TCP connections.",
	})
	TesterRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tester_connections_rejected_total",
		Help: "Total tester connection attempts refused (one already active).",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	ProtocolViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "protocol_violations_total",
		Help: "Total rejected malformed PDUs or K-Line frames (protocol violations).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead          = "tcp_read"
	ErrTCPWrite         = "tcp_write"
	ErrHandshake        = "handshake"
	ErrKLineWrite       = "kline_write"
	ErrKLineOverflow    = "kline_tx_overflow"
	ErrKLineRead        = "kline_read"
	ErrCANWrite         = "can_write"
	ErrCANOverflow      = "can_tx_overflow"
	ErrCANRead          = "can_read"
	ErrChecksumMismatch = "checksum_mismatch"
	ErrAddressMismatch  = "address_mismatch"
	ErrFormatInvalid    = "format_invalid"
	ErrUnknownChannel   = "unknown_channel"
	ErrUnknownPeriodic  = "unknown_periodic"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on a new mux listening on addr, in a background goroutine.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy periodic logging (avoid Prometheus
// scraping in-process).
var (
	localKLineRx   uint64
	localKLineTx   uint64
	localCANRx     uint64
	localCANTx     uint64
	localPDURx     uint64
	localPDUTx     uint64
	localChOpen    uint64
	localChClose   uint64
	localChActive  uint64
	localPeriodic  uint64
	localConns     uint64
	localRejects   uint64
	localErrors    uint64
	localViolation uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	KLineRx            uint64
	KLineTx            uint64
	CANRx              uint64
	CANTx              uint64
	PDURx              uint64
	PDUTx              uint64
	ChannelsOpened     uint64
	ChannelsClosed     uint64
	ChannelsActive     uint64
	PeriodicActive     uint64
	TesterConnections  uint64
	TesterRejected     uint64
	Errors             uint64 // sum across error labels
	ProtocolViolations uint64
}

func Snap() Snapshot {
	return Snapshot{
		KLineRx:            atomic.LoadUint64(&localKLineRx),
		KLineTx:            atomic.LoadUint64(&localKLineTx),
		CANRx:              atomic.LoadUint64(&localCANRx),
		CANTx:              atomic.LoadUint64(&localCANTx),
		PDURx:              atomic.LoadUint64(&localPDURx),
		PDUTx:              atomic.LoadUint64(&localPDUTx),
		ChannelsOpened:     atomic.LoadUint64(&localChOpen),
		ChannelsClosed:     atomic.LoadUint64(&localChClose),
		ChannelsActive:     atomic.LoadUint64(&localChActive),
		PeriodicActive:     atomic.LoadUint64(&localPeriodic),
		TesterConnections:  atomic.LoadUint64(&localConns),
		TesterRejected:     atomic.LoadUint64(&localRejects),
		Errors:             atomic.LoadUint64(&localErrors),
		ProtocolViolations: atomic.LoadUint64(&localViolation),
	}
}

// Wrapper helpers to keep call sites simple.

func IncKLineRx() {
	KLineRxFrames.Inc()
	atomic.AddUint64(&localKLineRx, 1)
}

func IncKLineTx() {
	KLineTxFrames.Inc()
	atomic.AddUint64(&localKLineTx, 1)
}

func IncCANRx() {
	CANRxFrames.Inc()
	atomic.AddUint64(&localCANRx, 1)
}

func IncCANTx() {
	CANTxFrames.Inc()
	atomic.AddUint64(&localCANTx, 1)
}

func IncPDURx() {
	PDURxTotal.Inc()
	atomic.AddUint64(&localPDURx, 1)
}

func IncPDUTx() {
	PDUTxTotal.Inc()
	atomic.AddUint64(&localPDUTx, 1)
}

func IncChannelOpened() {
	ChannelsOpened.Inc()
	atomic.AddUint64(&localChOpen, 1)
}

func IncChannelClosed() {
	ChannelsClosed.Inc()
	atomic.AddUint64(&localChClose, 1)
}

func SetChannelsActive(n int) {
	ChannelsActive.Set(float64(n))
	atomic.StoreUint64(&localChActive, uint64(n))
}

func SetPeriodicActive(n int) {
	PeriodicActive.Set(float64(n))
	atomic.StoreUint64(&localPeriodic, uint64(n))
}

func IncTesterConnection() {
	TesterConnections.Inc()
	atomic.AddUint64(&localConns, 1)
}

func IncTesterRejected() {
	TesterRejected.Inc()
	atomic.AddUint64(&localRejects, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncProtocolViolation() {
	ProtocolViolations.Inc()
	atomic.AddUint64(&localViolation, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so the first error does not
	// incur registration latency.
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrHandshake,
		ErrKLineWrite, ErrKLineOverflow, ErrKLineRead,
		ErrCANWrite, ErrCANOverflow, ErrCANRead,
		ErrChecksumMismatch, ErrAddressMismatch, ErrFormatInvalid,
		ErrUnknownChannel, ErrUnknownPeriodic,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
