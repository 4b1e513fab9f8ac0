package pdu

// Arbitration is a CAN-arbitration descriptor: the request id an outgoing
// frame is sent with, and the pattern/mask/extension an adapter uses to
// recognize the matching reply. Serialised in field order, 14 bytes total.
type Arbitration struct {
	Request          uint32
	RequestExtension uint8
	ReplyPattern     uint32
	ReplyMask        uint32
	ReplyExtension   uint8
}

// arbitrationLen is the wire size of a serialised Arbitration.
const arbitrationLen = 4 + 1 + 4 + 4 + 1

// encode appends the 14-byte wire form of a to dst and returns the result.
func (a Arbitration) encode(dst []byte) []byte {
	var buf [arbitrationLen]byte
	putUint32(buf[0:4], a.Request)
	buf[4] = a.RequestExtension
	putUint32(buf[5:9], a.ReplyPattern)
	putUint32(buf[9:13], a.ReplyMask)
	buf[13] = a.ReplyExtension
	return append(dst, buf[:]...)
}

// decodeArbitration reads an Arbitration from the head of b.
// b must have at least arbitrationLen bytes.
func decodeArbitration(b []byte) Arbitration {
	return Arbitration{
		Request:          uint32At(b[0:4]),
		RequestExtension: b[4],
		ReplyPattern:     uint32At(b[5:9]),
		ReplyMask:        uint32At(b[9:13]),
		ReplyExtension:   b[13],
	}
}
