package pdu

import "strings"

// --- Tester -> Adapter commands ---

// Ping builds a ping command carrying an arbitrary echo payload.
func Ping(payload []byte) PDU { return newPDU(TypePing, payload) }

// RequestInfo requests the adapter's identification fields.
func RequestInfo() PDU { return newPDU(TypeRequestInfo, nil) }

// ReadVoltage requests the adapter's measured bus voltage.
func ReadVoltage() PDU { return newPDU(TypeReadVoltage, nil) }

// OpenChannel asks the adapter to open a channel running protocol.
func OpenChannel(protocol ChannelProtocol) PDU {
	return newPDU(TypeOpenChannel, []byte{byte(protocol)})
}

// CloseChannel asks the adapter to close the channel identified by handle.
//
// The reference implementation this spec was distilled from built this PDU
// with type openChannel instead of closeChannel; that is a bug, fixed here.
func CloseChannel(handle byte) PDU {
	return newPDU(TypeCloseChannel, []byte{handle})
}

// Send transmits data on an already-open channel.
func Send(handle byte, data []byte) PDU {
	payload := make([]byte, 0, 1+len(data))
	payload = append(payload, handle)
	payload = append(payload, data...)
	return newPDU(TypeSend, payload)
}

// SetArbitration configures the CAN arbitration used by a channel.
func SetArbitration(handle byte, arb Arbitration) PDU {
	payload := make([]byte, 0, 1+arbitrationLen)
	payload = append(payload, handle)
	payload = arb.encode(payload)
	return newPDU(TypeSetArbitration, payload)
}

// StartPeriodicMessage schedules data to be re-emitted at interval
// (adapter-defined units) using the given arbitration, until cancelled with
// EndPeriodicMessage.
func StartPeriodicMessage(interval byte, arb Arbitration, data []byte) PDU {
	payload := make([]byte, 0, 1+arbitrationLen+len(data))
	payload = append(payload, interval)
	payload = arb.encode(payload)
	payload = append(payload, data...)
	return newPDU(TypeStartPeriodicMessage, payload)
}

// EndPeriodicMessage cancels a previously started periodic message.
func EndPeriodicMessage(handle byte) PDU {
	return newPDU(TypeEndPeriodicMessage, []byte{handle})
}

// PrepareForUpdate asks the adapter to enter firmware-update mode.
func PrepareForUpdate() PDU { return newPDU(TypePrepareForUpdate, nil) }

// SendUpdateData transmits one chunk of opaque firmware-update data.
func SendUpdateData(data []byte) PDU { return newPDU(TypeSendUpdateData, data) }

// CommitUpdate asks the adapter to apply the received update data.
func CommitUpdate() PDU { return newPDU(TypeCommitUpdate, nil) }

// Reset asks the adapter to reset itself.
func Reset() PDU { return newPDU(TypeReset, nil) }

// --- Adapter -> Tester replies ---

// Pong replies to a ping, echoing payload.
func Pong(payload []byte) PDU { return newPDU(TypePong, payload) }

// Info replies to requestInfo with five newline-separated ASCII fields, in
// order: vendor, model, hardware, serial, firmware. No trailing newline.
func Info(vendor, model, hardware, serial, firmware string) PDU {
	fields := []string{vendor, model, hardware, serial, firmware}
	return newPDU(TypeInfo, []byte(strings.Join(fields, "\n")))
}

// Voltage replies to readVoltage with a millivolt measurement.
func Voltage(millivolts uint16) PDU {
	var b [2]byte
	putUint16(b[:], millivolts)
	return newPDU(TypeVoltage, b[:])
}

// ChannelOpened replies to openChannel with the allocated handle.
func ChannelOpened(handle byte) PDU { return newPDU(TypeChannelOpened, []byte{handle}) }

// ChannelClosed replies to closeChannel, echoing the closed handle.
func ChannelClosed(handle byte) PDU { return newPDU(TypeChannelClosed, []byte{handle}) }

// Sent replies to send with the channel handle and the number of bytes
// actually transmitted.
func Sent(handle byte, byteCount uint16) PDU {
	payload := make([]byte, 3)
	payload[0] = handle
	putUint16(payload[1:3], byteCount)
	return newPDU(TypeSent, payload)
}

// ArbitrationSet replies to setArbitration.
func ArbitrationSet() PDU { return newPDU(TypeArbitrationSet, nil) }

// PeriodicMessageStarted replies to startPeriodicMessage with the allocated handle.
func PeriodicMessageStarted(handle byte) PDU {
	return newPDU(TypePeriodicMessageStarted, []byte{handle})
}

// PeriodicMessageEnded replies to endPeriodicMessage, echoing the cancelled handle.
func PeriodicMessageEnded(handle byte) PDU {
	return newPDU(TypePeriodicMessageEnded, []byte{handle})
}

// UpdateStartedSendData replies to prepareForUpdate, inviting update data chunks.
func UpdateStartedSendData() PDU { return newPDU(TypeUpdateStartedSendData, nil) }

// UpdateDataReceived replies to sendUpdateData.
func UpdateDataReceived() PDU { return newPDU(TypeUpdateDataReceived, nil) }

// UpdateCompleted replies to commitUpdate once the update has been applied.
func UpdateCompleted() PDU { return newPDU(TypeUpdateCompleted, nil) }

// Resetting replies to reset just before the adapter restarts.
func Resetting() PDU { return newPDU(TypeResetting, nil) }

// --- Error replies ---

func ErrorUnspecified() PDU    { return newPDU(TypeErrorUnspecified, nil) }
func ErrorHardware() PDU       { return newPDU(TypeErrorHardware, nil) }
func ErrorInvalidChannel() PDU { return newPDU(TypeErrorInvalidChannel, nil) }
func ErrorInvalidPeriod() PDU  { return newPDU(TypeErrorInvalidPeriod, nil) }
func ErrorNoResponse() PDU     { return newPDU(TypeErrorNoResponse, nil) }
func ErrorInvalidCommand() PDU { return newPDU(TypeErrorInvalidCommand, nil) }
