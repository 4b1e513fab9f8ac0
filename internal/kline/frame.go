// Package kline builds and splits ISO 9141-2 and KWP 2000 K-Line frames.
package kline

import "fmt"

// Mode selects the K-Line protocol variant a frame belongs to.
type Mode int

const (
	ModeISO9141 Mode = iota
	ModeKWP
)

// defaultISO9141Target and defaultISO9141KeyByte are the fixed header bytes
// of an ISO 9141-2 frame: [0x48, 0x6B, sourceAddr, ...data, checksum].
const (
	defaultISO9141Target  = 0x48
	defaultISO9141KeyByte = 0x6B
)

// checksum8 computes the modulo-256 sum of b.
func checksum8(b []byte) byte {
	var sum byte
	for _, x := range b {
		sum += x
	}
	return sum
}

// BuildISO9141 builds an ISO 9141-2 frame: [0x48, 0x6B, source, data..., checksum].
// data must be at most 252 bytes so the total frame fits in 256 bytes.
func BuildISO9141(source byte, data []byte) ([]byte, error) {
	if len(data) > 252 {
		return nil, fmt.Errorf("kline: iso9141 data too large: %d bytes (max 252)", len(data))
	}
	frame := make([]byte, 0, 3+len(data)+1)
	frame = append(frame, defaultISO9141Target, defaultISO9141KeyByte, source)
	frame = append(frame, data...)
	frame = append(frame, checksum8(frame))
	return frame, nil
}

// BuildKWPSingle builds a single KWP 2000 frame:
// [0x80|len(data), target, source, data..., checksum]. Requires
// 1 <= len(data) <= 63.
func BuildKWPSingle(source, target byte, data []byte) ([]byte, error) {
	if len(data) < 1 || len(data) > 63 {
		return nil, fmt.Errorf("kline: kwp data length %d out of range [1,63]", len(data))
	}
	frame := make([]byte, 0, 3+len(data)+1)
	frame = append(frame, 0x80|byte(len(data)), target, source)
	frame = append(frame, data...)
	frame = append(frame, checksum8(frame))
	return frame, nil
}

// BuildKWPMulti splits a logical payload (its first two bytes being the
// service + PID, per ISO 14230 convention) across one or more KWP frames.
// Each frame's data field is [service, PID, sequenceIndex, chunk...]
// (sequenceIndex starting at 1), where chunk is up to perFrameDataBytes
// bytes of payload[2:]; the final frame may be short. serviceID must equal
// payload[0] (the caller's logical service byte) and is accepted
// separately so call sites that only have the data-carrying part of the
// payload at hand still read as self-documenting.
//
// A canonical 22-byte payload [0x49, 0x02, V0..V19] with perFrameDataBytes=4
// produces five frames, each carrying [0x49, 0x02, seq, v_a, v_b, v_c, v_d]
// (seq = 1..5).
func BuildKWPMulti(source, target byte, payload []byte, serviceID byte, perFrameDataBytes int) ([][]byte, error) {
	if perFrameDataBytes < 1 {
		return nil, fmt.Errorf("kline: perFrameDataBytes must be >= 1")
	}
	if 3+perFrameDataBytes > 63 {
		return nil, fmt.Errorf("kline: perFrameDataBytes %d too large (3+n must be <= 63)", perFrameDataBytes)
	}
	if len(payload) < 2 {
		return nil, fmt.Errorf("kline: payload must carry at least service+PID (2 bytes)")
	}
	if payload[0] != serviceID {
		return nil, fmt.Errorf("kline: serviceID 0x%02X does not match payload[0] 0x%02X", serviceID, payload[0])
	}
	prefix := payload[0:2]
	rest := payload[2:]
	if len(rest) == 0 {
		return nil, fmt.Errorf("kline: payload has no data beyond service+PID")
	}
	var frames [][]byte
	seq := byte(1)
	for off := 0; off < len(rest); off += perFrameDataBytes {
		end := off + perFrameDataBytes
		if end > len(rest) {
			end = len(rest)
		}
		chunk := rest[off:end]
		data := make([]byte, 0, 3+len(chunk))
		data = append(data, prefix...)
		data = append(data, seq)
		data = append(data, chunk...)
		frame, err := BuildKWPSingle(source, target, data)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
		seq++
	}
	return frames, nil
}
