// Package pdu implements the CANyonero wire PDU: a byte-exact, bidirectional
// framing layer for the tester<->adapter link.
package pdu

import "encoding/binary"

// putUint16 writes v big-endian into b[0:2]. Caller guarantees len(b) >= 2.
func putUint16(b []byte, v uint16) {
	binary.BigEndian.PutUint16(b, v)
}

// uint16At reads a big-endian uint16 from b[0:2]. Caller guarantees len(b) >= 2.
func uint16At(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// putUint32 writes v big-endian into b[0:4]. Caller guarantees len(b) >= 4.
func putUint32(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}

// uint32At reads a big-endian uint32 from b[0:4]. Caller guarantees len(b) >= 4.
func uint32At(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
