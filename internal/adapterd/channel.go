package adapterd

import (
	"github.com/kstaniek/canyonero/internal/canbus"
	"github.com/kstaniek/canyonero/internal/kline"
	"github.com/kstaniek/canyonero/internal/pdu"
)

// Fixed K-Line addressing. The PDU protocol has no "set K-Line address"
// command (setArbitration only carries CAN ids/masks), so the adapter fixes
// these the way spec.md's own Transceiver examples do.
const (
	kwpTesterAddr     = 0xF1
	kwpECUAddr        = 0x10
	iso9141Target     = 0x48
	kwpMaxSingleData  = 63 // BuildKWPSingle's data-length cap
	kwpMultiChunkData = 60 // 3 + n <= 63 per BuildKWPMulti's frame-size constraint
	canMaxFrameLen    = 8
)

// Channel is adapter-side bookkeeping pairing a handle with the protocol and
// (for CAN variants) arbitration a tester configured it with. It is never
// wire-visible beyond the handle byte (spec.md §3).
type Channel struct {
	handle   byte
	protocol pdu.ChannelProtocol
	mode     kline.Mode
	arb      pdu.Arbitration
	hasArb   bool
}

func newChannel(h byte, protocol pdu.ChannelProtocol) *Channel {
	c := &Channel{handle: h, protocol: protocol}
	if protocol == pdu.ProtocolKWP2000 {
		c.mode = kline.ModeKWP
	} else {
		c.mode = kline.ModeISO9141
	}
	return c
}

func (c *Channel) isKLine() bool {
	return c.protocol == pdu.ProtocolISO9141 || c.protocol == pdu.ProtocolKWP2000
}

// buildOutgoing builds the bus-level K-Line frame(s) carrying data as an
// outgoing request from the tester's fixed address to the ECU's.
func (c *Channel) buildOutgoing(data []byte) ([][]byte, error) {
	if c.protocol == pdu.ProtocolISO9141 {
		f, err := kline.BuildISO9141(kwpTesterAddr, data)
		if err != nil {
			return nil, err
		}
		return [][]byte{f}, nil
	}
	if len(data) <= kwpMaxSingleData {
		f, err := kline.BuildKWPSingle(kwpTesterAddr, kwpECUAddr, data)
		if err != nil {
			return nil, err
		}
		return [][]byte{f}, nil
	}
	if len(data) < 2 {
		return nil, errShortSendPayload
	}
	return kline.BuildKWPMulti(kwpTesterAddr, kwpECUAddr, data, data[0], kwpMultiChunkData)
}

// replyTransceiver constructs a Transceiver validating frames addressed from
// the ECU to the tester - the inverse role pairing from buildOutgoing.
func (c *Channel) replyTransceiver() *transceiverFactory {
	if c.protocol == pdu.ProtocolISO9141 {
		return &transceiverFactory{target: iso9141Target, source: 0, mode: kline.ModeISO9141}
	}
	return &transceiverFactory{target: kwpTesterAddr, source: kwpECUAddr, mode: kline.ModeKWP}
}

type transceiverFactory struct {
	target, source byte
	mode           kline.Mode
}

// canFrames splits data into one or more raw 8-byte CAN frames using the
// channel's configured arbitration request id. No ISO-TP flow-control
// logic is applied (spec.md's Non-goals: "CAN and ISO-TP payload
// reassembly is not implemented here"); callers supply already pre-framed
// bytes and the adapter only carries them onto the wire.
func (c *Channel) canFrames(data []byte) []canbus.Frame {
	if len(data) == 0 {
		return []canbus.Frame{{ID: c.arb.Request, Extended: c.arb.RequestExtension != 0}}
	}
	var frames []canbus.Frame
	for off := 0; off < len(data); off += canMaxFrameLen {
		end := off + canMaxFrameLen
		if end > len(data) {
			end = len(data)
		}
		var fr canbus.Frame
		fr.ID = c.arb.Request
		fr.Extended = c.arb.RequestExtension != 0
		fr.Len = uint8(copy(fr.Data[:], data[off:end]))
		frames = append(frames, fr)
	}
	return frames
}

// buildSingleCANFrame builds one raw CAN frame for a periodic message, whose
// payload (spec.md's startPeriodicMessage data) must fit one classic CAN
// frame - there is no multi-frame chunking for periodic transmissions.
func buildSingleCANFrame(arb pdu.Arbitration, data []byte) (canbus.Frame, error) {
	if len(data) > canMaxFrameLen {
		return canbus.Frame{}, ErrPayloadTooLarge
	}
	var fr canbus.Frame
	fr.ID = arb.Request
	fr.Extended = arb.RequestExtension != 0
	fr.Len = uint8(copy(fr.Data[:], data))
	return fr, nil
}
