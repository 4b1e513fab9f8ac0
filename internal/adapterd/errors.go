package adapterd

import (
	"errors"

	"github.com/kstaniek/canyonero/internal/metrics"
	"github.com/kstaniek/canyonero/internal/transceiver"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is,
// mirroring the teacher's internal/server/errors.go.
var (
	ErrListen            = errors.New("listen")
	ErrAccept            = errors.New("accept")
	ErrAlreadyConnected  = errors.New("a tester is already connected")
	ErrConnRead          = errors.New("conn_read")
	ErrConnWrite         = errors.New("conn_write")
	ErrBackendTx         = errors.New("backend_tx")
	ErrContext           = errors.New("context_cancelled")
	ErrUnknownChannel    = errors.New("adapterd: unknown channel handle")
	ErrUnknownPeriodic   = errors.New("adapterd: unknown periodic message handle")
	ErrChannelsExhausted = errors.New("adapterd: no channel handles available")
	ErrPeriodicExhausted = errors.New("adapterd: no periodic message handles available")
	ErrWrongProtocol     = errors.New("adapterd: channel does not support this operation")
	ErrPayloadTooLarge   = errors.New("adapterd: payload exceeds one raw CAN frame")
	errShortSendPayload  = errors.New("adapterd: multi-frame kwp send needs at least service+pid")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels, the way the
// teacher's mapErrToMetric does for transport errors.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrTCPRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrTCPWrite
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrTCPRead
	case errors.Is(err, ErrUnknownChannel):
		return metrics.ErrUnknownChannel
	case errors.Is(err, ErrUnknownPeriodic):
		return metrics.ErrUnknownPeriodic
	default:
		return "other"
	}
}

// errorReplyFor maps a protocol-core or adapterd error to the wire
// error-reply PDU type, per SPEC_FULL.md §7: ErrChecksumMismatch/
// ErrAddressMismatch -> errorNoResponse; ErrFormatInvalid -> errorHardware;
// unrecognized/handle-not-found -> errorInvalidChannel; unknown-periodic ->
// errorInvalidPeriodic; anything else -> errorUnspecified.
func errorReplyFor(err error) pduErrorKind {
	switch {
	case errors.Is(err, transceiver.ErrChecksumMismatch), errors.Is(err, transceiver.ErrAddressMismatch), errors.Is(err, transceiver.ErrNoData):
		return kindNoResponse
	case errors.Is(err, transceiver.ErrFormatInvalid), errors.Is(err, transceiver.ErrShortFrame):
		return kindHardware
	case errors.Is(err, ErrUnknownChannel), errors.Is(err, ErrChannelsExhausted), errors.Is(err, ErrWrongProtocol):
		return kindInvalidChannel
	case errors.Is(err, ErrUnknownPeriodic), errors.Is(err, ErrPeriodicExhausted):
		return kindInvalidPeriod
	default:
		return kindUnspecified
	}
}

type pduErrorKind int

const (
	kindUnspecified pduErrorKind = iota
	kindHardware
	kindInvalidChannel
	kindInvalidPeriod
	kindNoResponse
)
