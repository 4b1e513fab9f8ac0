package pdu

// Type is the 8-bit PDU type tag. The ranges are disjoint: tester->adapter
// commands (0x01..0x1F), adapter->tester replies (0x40..0x5F), and error
// replies (0xE0..0xEF). The concrete assignment below is this repository's
// canonical numbering (see SPEC_FULL.md §6); an implementer wiring against
// real adapter firmware would cross-reference the values observed on the
// wire instead of re-deriving them.
type Type uint8

// Tester -> Adapter commands.
const (
	TypePing                  Type = 0x01
	TypeRequestInfo           Type = 0x02
	TypeReadVoltage           Type = 0x03
	TypeOpenChannel           Type = 0x04
	TypeCloseChannel          Type = 0x05
	TypeSend                  Type = 0x06
	TypeSetArbitration        Type = 0x07
	TypeStartPeriodicMessage  Type = 0x08
	TypeEndPeriodicMessage    Type = 0x09
	TypePrepareForUpdate      Type = 0x0A
	TypeSendUpdateData        Type = 0x0B
	TypeCommitUpdate          Type = 0x0C
	TypeReset                 Type = 0x0D
)

// Adapter -> Tester replies.
const (
	TypePong                   Type = 0x40
	TypeInfo                   Type = 0x41
	TypeVoltage                Type = 0x42
	TypeChannelOpened          Type = 0x43
	TypeChannelClosed          Type = 0x44
	TypeSent                   Type = 0x45
	TypeArbitrationSet         Type = 0x46
	TypePeriodicMessageStarted Type = 0x47
	TypePeriodicMessageEnded   Type = 0x48
	TypeUpdateStartedSendData  Type = 0x49
	TypeUpdateDataReceived     Type = 0x4A
	TypeUpdateCompleted        Type = 0x4B
	TypeResetting              Type = 0x4C
)

// Error replies.
const (
	TypeErrorUnspecified    Type = 0xE0
	TypeErrorHardware       Type = 0xE1
	TypeErrorInvalidChannel Type = 0xE2
	TypeErrorInvalidPeriod  Type = 0xE3
	TypeErrorNoResponse     Type = 0xE4
	TypeErrorInvalidCommand Type = 0xEF
)

// known is the full enumeration; decode() rejects anything not in this set.
var known = map[Type]bool{
	TypePing: true, TypeRequestInfo: true, TypeReadVoltage: true,
	TypeOpenChannel: true, TypeCloseChannel: true, TypeSend: true,
	TypeSetArbitration: true, TypeStartPeriodicMessage: true,
	TypeEndPeriodicMessage: true, TypePrepareForUpdate: true,
	TypeSendUpdateData: true, TypeCommitUpdate: true, TypeReset: true,

	TypePong: true, TypeInfo: true, TypeVoltage: true,
	TypeChannelOpened: true, TypeChannelClosed: true, TypeSent: true,
	TypeArbitrationSet: true, TypePeriodicMessageStarted: true,
	TypePeriodicMessageEnded: true, TypeUpdateStartedSendData: true,
	TypeUpdateDataReceived: true, TypeUpdateCompleted: true, TypeResetting: true,

	TypeErrorUnspecified: true, TypeErrorHardware: true,
	TypeErrorInvalidChannel: true, TypeErrorInvalidPeriod: true,
	TypeErrorNoResponse: true, TypeErrorInvalidCommand: true,
}

// IsError reports whether t falls in the 0xE0..0xEF error range.
func (t Type) IsError() bool { return t >= 0xE0 && t <= 0xEF }

// ChannelProtocol is the bus protocol a channel runs, encoded as one byte in
// openChannel's payload.
type ChannelProtocol uint8

const (
	ProtocolRawCAN  ChannelProtocol = 0x01
	ProtocolISOTP   ChannelProtocol = 0x02
	ProtocolISO9141 ChannelProtocol = 0x03
	ProtocolKWP2000 ChannelProtocol = 0x04
)
