package pdu

import "errors"

// Sentinel errors, checkable with errors.Is, mirroring the error-kind table
// of SPEC_FULL.md §7.
var (
	// ErrPayloadTooLarge is returned by Encode when payload exceeds 65535 bytes.
	ErrPayloadTooLarge = errors.New("pdu: payload too large")
	// ErrBadPreamble is returned by Decode when frame[0] != ATT.
	ErrBadPreamble = errors.New("pdu: bad preamble")
	// ErrUnknownType is returned by Decode when the type byte is not enumerated.
	ErrUnknownType = errors.New("pdu: unknown type")
	// ErrLengthMismatch is returned by Decode when the declared length disagrees
	// with the buffer length.
	ErrLengthMismatch = errors.New("pdu: length mismatch")
	// ErrWrongType is returned by typed accessors invoked on a PDU variant that
	// does not carry the requested field.
	ErrWrongType = errors.New("pdu: wrong type for accessor")
	// ErrShortFrame is returned by Decode when frame is shorter than the 4-byte header.
	ErrShortFrame = errors.New("pdu: frame shorter than header")
)
