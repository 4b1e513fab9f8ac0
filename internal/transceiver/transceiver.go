// Package transceiver reassembles a logical K-Line response from one or
// more bus-level frames. A Transceiver is a small, pure finite state
// machine - Idle/Accumulating/Done - owned by exactly one logical
// request/response exchange; it holds no dependency on I/O, time, or
// concurrency.
package transceiver

import (
	"errors"
	"fmt"

	"github.com/kstaniek/canyonero/internal/kline"
)

// Sentinel errors, surfaced wrapped inside Action.Reason on ProtocolViolation.
var (
	ErrChecksumMismatch = errors.New("transceiver: checksum mismatch")
	ErrAddressMismatch  = errors.New("transceiver: address mismatch")
	ErrFormatInvalid    = errors.New("transceiver: format invalid")
	ErrNoData           = errors.New("transceiver: no data")
	ErrShortFrame       = errors.New("transceiver: frame too short")
)

// Kind enumerates the outcome of Feed/Finalize.
type Kind int

const (
	// WaitForMore indicates valid partial input was consumed; keep feeding.
	WaitForMore Kind = iota
	// Process indicates a complete logical payload is ready, in Bytes.
	Process
	// ProtocolViolation indicates the stream is unrecoverable; see Reason.
	ProtocolViolation
)

func (k Kind) String() string {
	switch k {
	case WaitForMore:
		return "WaitForMore"
	case Process:
		return "Process"
	case ProtocolViolation:
		return "ProtocolViolation"
	default:
		return "Unknown"
	}
}

// Action is the outcome of Feed or Finalize.
type Action struct {
	Kind   Kind
	Bytes  []byte // valid when Kind == Process
	Reason error  // valid when Kind == ProtocolViolation
}

type state int

const (
	stateIdle state = iota
	stateAccumulating
	stateDone
)

// Transceiver reassembles a single logical K-Line exchange.
type Transceiver struct {
	target      byte
	source      byte
	expectedLen int
	mode        kline.Mode

	st       state
	acc      []byte
	terminal Action
}

// New constructs a Transceiver for one request/response exchange.
// expectedLen of 0 means the total logical-payload length is unknown and
// the caller must call Finalize once no more frames are expected.
func New(target, source byte, expectedLen int, mode kline.Mode) *Transceiver {
	return &Transceiver{target: target, source: source, expectedLen: expectedLen, mode: mode, st: stateIdle}
}

// Feed processes one bus-level frame and returns the resulting Action.
// Once Done, Feed and Finalize both return the same terminal Action.
func (t *Transceiver) Feed(frame []byte) Action {
	if t.st == stateDone {
		return t.terminal
	}
	data, err := t.validateAndExtract(frame)
	if err != nil {
		return t.violate(err)
	}
	data = t.stripRepeatedPrefix(data)
	t.acc = append(t.acc, data...)
	t.st = stateAccumulating
	if t.expectedLen > 0 && len(t.acc) >= t.expectedLen {
		return t.process(t.acc[:t.expectedLen])
	}
	return Action{Kind: WaitForMore}
}

// Finalize concludes the exchange when the caller has decided, by timeout,
// that no more frames are coming. Used when expectedLen is unknown (0).
func (t *Transceiver) Finalize() Action {
	if t.st == stateDone {
		return t.terminal
	}
	if len(t.acc) == 0 {
		return t.violate(ErrNoData)
	}
	return t.process(t.acc)
}

func (t *Transceiver) process(payload []byte) Action {
	out := make([]byte, len(payload))
	copy(out, payload)
	a := Action{Kind: Process, Bytes: out}
	t.st = stateDone
	t.terminal = a
	return a
}

func (t *Transceiver) violate(reason error) Action {
	a := Action{Kind: ProtocolViolation, Reason: reason}
	t.st = stateDone
	t.terminal = a
	return a
}

// validateAndExtract runs mode-specific header/checksum validation and
// returns the data portion of frame (between header and checksum).
func (t *Transceiver) validateAndExtract(frame []byte) ([]byte, error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(frame))
	}
	switch t.mode {
	case kline.ModeKWP:
		return t.validateKWP(frame)
	default:
		return t.validateISO9141(frame)
	}
}

func (t *Transceiver) validateKWP(frame []byte) ([]byte, error) {
	fmtByte := frame[0]
	if fmtByte&0x80 == 0 {
		return nil, fmt.Errorf("%w: format byte 0x%02X missing high bit", ErrFormatInvalid, fmtByte)
	}
	dataLen := int(fmtByte & 0x3F)
	if len(frame) != 3+dataLen+1 {
		return nil, fmt.Errorf("%w: format byte declares %d data bytes, frame is %d bytes", ErrFormatInvalid, dataLen, len(frame))
	}
	if frame[1] != t.target {
		return nil, fmt.Errorf("%w: target 0x%02X, want 0x%02X", ErrAddressMismatch, frame[1], t.target)
	}
	if frame[2] != t.source {
		return nil, fmt.Errorf("%w: source 0x%02X, want 0x%02X", ErrAddressMismatch, frame[2], t.source)
	}
	if err := checkChecksum(frame); err != nil {
		return nil, err
	}
	return frame[3 : 3+dataLen], nil
}

func (t *Transceiver) validateISO9141(frame []byte) ([]byte, error) {
	if frame[0] != t.target {
		return nil, fmt.Errorf("%w: target 0x%02X, want 0x%02X", ErrAddressMismatch, frame[0], t.target)
	}
	if frame[1] != 0x6B {
		return nil, fmt.Errorf("%w: key byte 0x%02X, want 0x6B", ErrFormatInvalid, frame[1])
	}
	if err := checkChecksum(frame); err != nil {
		return nil, err
	}
	return frame[3 : len(frame)-1], nil
}

func checkChecksum(frame []byte) error {
	var sum byte
	for _, b := range frame[:len(frame)-1] {
		sum += b
	}
	if sum != frame[len(frame)-1] {
		return fmt.Errorf("%w: computed 0x%02X, frame carries 0x%02X", ErrChecksumMismatch, sum, frame[len(frame)-1])
	}
	return nil
}

// stripRepeatedPrefix implements the merge rule of spec.md §4.4 steps 3/4,
// resolved so the merged payload reconstructs the original logical payload
// exactly (see SPEC_FULL.md §9 / DESIGN.md "multi-frame prefix resolution").
//
// In KWP mode every multi-frame chunk - including the first - repeats the
// logical payload's leading service/PID pair followed by a one-byte,
// per-frame sequence index ([service, PID, seq, chunk...]); the service/PID
// pair must survive exactly once in the merged payload (at the front) while
// every sequence index is noise the Transceiver strips. So in KWP mode the
// first frame loses only its sequence index (index 2), keeping the
// service/PID pair. In ISO 9141 mode the first frame is appended whole. In
// both modes, every later frame whose service/PID matches what's already
// accumulated loses the full three-byte prefix. A frame whose service/PID
// does not match what's accumulated is assumed to be genuinely new data (not
// a repeated header) and is appended whole.
func (t *Transceiver) stripRepeatedPrefix(data []byte) []byte {
	if len(t.acc) == 0 {
		if t.mode != kline.ModeKWP || len(data) < 3 {
			return data
		}
		out := make([]byte, 0, len(data)-1)
		out = append(out, data[0], data[1])
		out = append(out, data[3:]...)
		return out
	}
	if len(data) >= 3 && len(t.acc) >= 2 && data[0] == t.acc[0] && data[1] == t.acc[1] {
		return data[3:]
	}
	return data
}
