// Package logging is CANyonero's structured-log entry point: a shared
// log/slog logger, plus small helpers that attach the channel/periodic
// attributes internal/adapterd's handlers log on nearly every call (channel
// handle, protocol name, periodic handle) so call sites don't repeat the
// same attr pairs by hand at every log statement.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/kstaniek/canyonero/internal/pdu"
)

// Global structured logger. Initialized with a reasonable text handler.
var logger atomic.Pointer[slog.Logger]

func init() {
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Store(l)
}

// L returns the current global logger.
func L() *slog.Logger { return logger.Load() }

// Set replaces the global logger.
func Set(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// New creates a new logger with given level, format ("text" or "json"), and optional writer (defaults stderr).
func New(format string, level slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}

// WithChannel annotates l with the channel handle and protocol name every
// adapterd.Channel log line carries, so send/open/close call sites don't
// spell out "channel"/"protocol" by hand.
func WithChannel(l *slog.Logger, handle byte, protocol pdu.ChannelProtocol) *slog.Logger {
	return l.With("channel", handle, "protocol", protocolName(protocol))
}

// WithPeriodic annotates l with a periodic message handle.
func WithPeriodic(l *slog.Logger, handle byte) *slog.Logger {
	return l.With("periodic", handle)
}

func protocolName(p pdu.ChannelProtocol) string {
	switch p {
	case pdu.ProtocolRawCAN:
		return "rawCAN"
	case pdu.ProtocolISOTP:
		return "isoTP"
	case pdu.ProtocolISO9141:
		return "iso9141"
	case pdu.ProtocolKWP2000:
		return "kwp2000"
	default:
		return "unknown"
	}
}
