package pdu

import "fmt"

// Channel returns the ChannelHandle carried by PDU variants whose layout
// places it as the first payload byte. Returns ErrWrongType for any other
// variant.
func (p PDU) Channel() (byte, error) {
	switch p.typ {
	case TypeCloseChannel, TypeSend, TypeSetArbitration,
		TypeChannelOpened, TypeChannelClosed, TypeSent:
		if len(p.payload) < 1 {
			return 0, fmt.Errorf("%w: short payload", ErrShortFrame)
		}
		return p.payload[0], nil
	default:
		return 0, fmt.Errorf("%w: %v has no channel handle", ErrWrongType, p.typ)
	}
}

// PeriodicMessage returns the PeriodicMessageHandle carried by PDU variants
// whose layout places it as the first payload byte.
func (p PDU) PeriodicMessage() (byte, error) {
	switch p.typ {
	case TypeEndPeriodicMessage, TypePeriodicMessageStarted, TypePeriodicMessageEnded:
		if len(p.payload) < 1 {
			return 0, fmt.Errorf("%w: short payload", ErrShortFrame)
		}
		return p.payload[0], nil
	default:
		return 0, fmt.Errorf("%w: %v has no periodic message handle", ErrWrongType, p.typ)
	}
}

// Arbitration returns the Arbitration record carried by setArbitration
// (immediately after the handle byte) or startPeriodicMessage (immediately
// after the interval byte).
func (p PDU) Arbitration() (Arbitration, error) {
	switch p.typ {
	case TypeSetArbitration, TypeStartPeriodicMessage:
		if len(p.payload) < 1+arbitrationLen {
			return Arbitration{}, fmt.Errorf("%w: short payload", ErrShortFrame)
		}
		return decodeArbitration(p.payload[1 : 1+arbitrationLen]), nil
	default:
		return Arbitration{}, fmt.Errorf("%w: %v has no arbitration", ErrWrongType, p.typ)
	}
}

// DataSlice returns the opaque data portion of PDU variants that carry one.
// On send it is the payload from offset 1 (past the channel handle); on
// sendUpdateData it is the whole payload (offset 0); on
// startPeriodicMessage it is the payload past the interval byte and the
// Arbitration record; on ping/pong it is the whole payload.
func (p PDU) DataSlice() ([]byte, error) {
	switch p.typ {
	case TypeSend:
		if len(p.payload) < 1 {
			return nil, fmt.Errorf("%w: short payload", ErrShortFrame)
		}
		return p.payload[1:], nil
	case TypeSendUpdateData:
		return p.payload, nil
	case TypeStartPeriodicMessage:
		if len(p.payload) < 1+arbitrationLen {
			return nil, fmt.Errorf("%w: short payload", ErrShortFrame)
		}
		return p.payload[1+arbitrationLen:], nil
	case TypePing, TypePong:
		return p.payload, nil
	default:
		return nil, fmt.Errorf("%w: %v has no data slice", ErrWrongType, p.typ)
	}
}

// Info parses an info PDU's five newline-separated ASCII fields. Returns
// ErrWrongType for any other variant.
func (p PDU) Info() (vendor, model, hardware, serial, firmware string, err error) {
	if p.typ != TypeInfo {
		err = fmt.Errorf("%w: %v is not info", ErrWrongType, p.typ)
		return
	}
	fields := splitInfoFields(string(p.payload))
	if len(fields) != 5 {
		err = fmt.Errorf("pdu: info payload has %d fields, want 5", len(fields))
		return
	}
	return fields[0], fields[1], fields[2], fields[3], fields[4], nil
}

func splitInfoFields(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// Voltage parses a voltage PDU's big-endian millivolt field.
func (p PDU) Voltage() (uint16, error) {
	if p.typ != TypeVoltage {
		return 0, fmt.Errorf("%w: %v is not voltage", ErrWrongType, p.typ)
	}
	if len(p.payload) < 2 {
		return 0, fmt.Errorf("%w: short payload", ErrShortFrame)
	}
	return uint16At(p.payload[0:2]), nil
}

// SentByteCount parses a sent PDU's byte-count field.
func (p PDU) SentByteCount() (uint16, error) {
	if p.typ != TypeSent {
		return 0, fmt.Errorf("%w: %v is not sent", ErrWrongType, p.typ)
	}
	if len(p.payload) < 3 {
		return 0, fmt.Errorf("%w: short payload", ErrShortFrame)
	}
	return uint16At(p.payload[1:3]), nil
}

// OpenChannelProtocol parses an openChannel PDU's requested protocol.
func (p PDU) OpenChannelProtocol() (ChannelProtocol, error) {
	if p.typ != TypeOpenChannel {
		return 0, fmt.Errorf("%w: %v is not openChannel", ErrWrongType, p.typ)
	}
	if len(p.payload) < 1 {
		return 0, fmt.Errorf("%w: short payload", ErrShortFrame)
	}
	return ChannelProtocol(p.payload[0]), nil
}

// PeriodicInterval parses a startPeriodicMessage PDU's interval byte.
func (p PDU) PeriodicInterval() (byte, error) {
	if p.typ != TypeStartPeriodicMessage {
		return 0, fmt.Errorf("%w: %v is not startPeriodicMessage", ErrWrongType, p.typ)
	}
	if len(p.payload) < 1 {
		return 0, fmt.Errorf("%w: short payload", ErrShortFrame)
	}
	return p.payload[0], nil
}
