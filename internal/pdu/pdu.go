package pdu

import "fmt"

// ATT is the fixed attention/preamble byte starting every PDU on the wire.
const ATT byte = 0x1A

// headerLen is the fixed 4-byte header: ATT, type, lenHi, lenLo.
const headerLen = 4

// maxPayload is the largest payload length the 16-bit length field can carry.
const maxPayload = 65535

// PDU is a tagged variant: a type tag plus its payload bytes. Accessors below
// are effectively pattern-match arms restricted to the variants whose wire
// layout carries the requested field.
type PDU struct {
	typ     Type
	payload []byte
}

// Type returns the PDU's type tag.
func (p PDU) Type() Type { return p.typ }

// Raw returns the PDU's payload bytes, unparsed. Callers must not mutate it.
func (p PDU) Raw() []byte { return p.payload }

// newPDU is the single internal constructor; every typed constructor below
// funnels through it so the invariant "payload is never nil" holds.
func newPDU(t Type, payload []byte) PDU {
	if payload == nil {
		payload = []byte{}
	}
	return PDU{typ: t, payload: payload}
}

// Encode produces [ATT, type, lenHi, lenLo, payload...]. Fails with
// ErrPayloadTooLarge if the payload exceeds 65535 bytes.
func (p PDU) Encode() ([]byte, error) {
	return Encode(p.typ, p.payload)
}

// Encode builds the wire frame for a raw (type, payload) pair.
func Encode(t Type, payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	out := make([]byte, headerLen, headerLen+len(payload))
	out[0] = ATT
	out[1] = byte(t)
	putUint16(out[2:4], uint16(len(payload)))
	out = append(out, payload...)
	return out, nil
}

// Decode parses a complete wire frame into a PDU. frame must be exactly one
// frame (use Probe to find its length first).
func Decode(frame []byte) (PDU, error) {
	if len(frame) < headerLen {
		return PDU{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(frame))
	}
	if frame[0] != ATT {
		return PDU{}, fmt.Errorf("%w: 0x%02X", ErrBadPreamble, frame[0])
	}
	t := Type(frame[1])
	if !known[t] {
		return PDU{}, fmt.Errorf("%w: 0x%02X", ErrUnknownType, byte(t))
	}
	declared := int(uint16At(frame[2:4]))
	if len(frame) != headerLen+declared {
		return PDU{}, fmt.Errorf("%w: declared %d, frame carries %d", ErrLengthMismatch, declared, len(frame)-headerLen)
	}
	payload := make([]byte, declared)
	copy(payload, frame[headerLen:])
	return newPDU(t, payload), nil
}

// Probe inspects the head of buf, which may hold a partial PDU, exactly one
// PDU, or multiple concatenated PDUs. It returns the byte length of the first
// complete PDU and true once buf holds at least that many bytes; otherwise
// (0, false). Probe does not validate the type byte — that is Decode's job —
// so a buffer with an unrecognized type still probes successfully and lets
// the caller advance past it (Decode then reports ErrUnknownType).
func Probe(buf []byte) (int, bool) {
	if len(buf) < headerLen {
		return 0, false
	}
	declared := int(uint16At(buf[2:4]))
	n := headerLen + declared
	if len(buf) < n {
		return 0, false
	}
	return n, true
}
