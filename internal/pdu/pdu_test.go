package pdu

import (
	"bytes"
	"errors"
	"testing"
)

func TestPing_WireBytes(t *testing.T) {
	wire, err := Ping(nil).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{0x1A, 0x01, 0x00, 0x00}
	if !bytes.Equal(wire, want) {
		t.Fatalf("ping wire = % X, want % X", wire, want)
	}
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type() != TypePing || len(got.Raw()) != 0 {
		t.Fatalf("decode(ping) = %+v", got)
	}
}

func TestRoundTrip_AllConstructors(t *testing.T) {
	arb := Arbitration{Request: 0x7E0, RequestExtension: 0x01, ReplyPattern: 0x7E8, ReplyMask: 0x7FF, ReplyExtension: 0x02}
	cases := []PDU{
		Ping([]byte{1, 2, 3}),
		RequestInfo(),
		ReadVoltage(),
		OpenChannel(ProtocolKWP2000),
		CloseChannel(0x05),
		Send(0x05, []byte{0x22, 0xF1, 0x90}),
		SetArbitration(0x05, arb),
		StartPeriodicMessage(20, arb, []byte{0x01, 0x02}),
		EndPeriodicMessage(0x03),
		PrepareForUpdate(),
		SendUpdateData([]byte{0xDE, 0xAD, 0xBE, 0xEF}),
		CommitUpdate(),
		Reset(),
		Pong([]byte{9, 9}),
		Info("Automotive-Swift", "CANyonero", "rev-b", "SN-0001", "1.2.3"),
		Voltage(12345),
		ChannelOpened(0x05),
		ChannelClosed(0x05),
		Sent(0x05, 3),
		ArbitrationSet(),
		PeriodicMessageStarted(0x03),
		PeriodicMessageEnded(0x03),
		UpdateStartedSendData(),
		UpdateDataReceived(),
		UpdateCompleted(),
		Resetting(),
		ErrorUnspecified(),
		ErrorHardware(),
		ErrorInvalidChannel(),
		ErrorInvalidPeriod(),
		ErrorNoResponse(),
		ErrorInvalidCommand(),
	}
	for _, want := range cases {
		wire, err := want.Encode()
		if err != nil {
			t.Fatalf("encode %v: %v", want.Type(), err)
		}
		if wire[0] != ATT {
			t.Fatalf("%v: frame[0] = 0x%02X, want ATT", want.Type(), wire[0])
		}
		if len(wire) != 4+len(want.Raw()) {
			t.Fatalf("%v: len(wire) = %d, want %d", want.Type(), len(wire), 4+len(want.Raw()))
		}
		got, err := Decode(wire)
		if err != nil {
			t.Fatalf("decode %v: %v", want.Type(), err)
		}
		if got.Type() != want.Type() || !bytes.Equal(got.Raw(), want.Raw()) {
			t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
		}
	}
}

func TestCloseChannel_UsesCloseChannelType(t *testing.T) {
	p := CloseChannel(0x07)
	if p.Type() != TypeCloseChannel {
		t.Fatalf("CloseChannel built type %v, want TypeCloseChannel (this is the fixed reference bug)", p.Type())
	}
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	_, err := Encode(TypeSendUpdateData, make([]byte, 65536))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestDecode_BadPreamble(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x01, 0x00, 0x00})
	if !errors.Is(err, ErrBadPreamble) {
		t.Fatalf("err = %v, want ErrBadPreamble", err)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte{ATT, 0xFF, 0x00, 0x00})
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestDecode_LengthMismatch(t *testing.T) {
	_, err := Decode([]byte{ATT, byte(TypePing), 0x00, 0x05, 0x01})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
}

func TestProbe(t *testing.T) {
	wire, _ := Send(0x01, []byte{0xAA, 0xBB, 0xCC}).Encode()
	extra := append(append([]byte{}, wire...), 0xDE, 0xAD)
	n, ok := Probe(extra)
	if !ok || n != len(wire) {
		t.Fatalf("Probe(complete+trailing) = (%d, %v), want (%d, true)", n, ok, len(wire))
	}
	for k := 0; k < len(wire); k++ {
		if _, ok := Probe(wire[:k]); ok {
			t.Fatalf("Probe(wire[:%d]) reported complete early", k)
		}
	}
}

func TestAccessors_WrongType(t *testing.T) {
	p := RequestInfo()
	if _, err := p.Channel(); !errors.Is(err, ErrWrongType) {
		t.Fatalf("Channel() on requestInfo: err = %v, want ErrWrongType", err)
	}
	if _, err := p.Arbitration(); !errors.Is(err, ErrWrongType) {
		t.Fatalf("Arbitration() on requestInfo: err = %v, want ErrWrongType", err)
	}
	if _, err := p.DataSlice(); !errors.Is(err, ErrWrongType) {
		t.Fatalf("DataSlice() on requestInfo: err = %v, want ErrWrongType", err)
	}
}

func TestAccessors_Send(t *testing.T) {
	p := Send(0x09, []byte{0x01, 0x02, 0x03})
	h, err := p.Channel()
	if err != nil || h != 0x09 {
		t.Fatalf("Channel() = (%v, %v), want (0x09, nil)", h, err)
	}
	data, err := p.DataSlice()
	if err != nil || !bytes.Equal(data, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("DataSlice() = (% X, %v)", data, err)
	}
}

func TestAccessors_SendUpdateData(t *testing.T) {
	p := SendUpdateData([]byte{0x01, 0x02})
	data, err := p.DataSlice()
	if err != nil || !bytes.Equal(data, []byte{0x01, 0x02}) {
		t.Fatalf("DataSlice() = (% X, %v)", data, err)
	}
}

func TestAccessors_SetArbitration(t *testing.T) {
	arb := Arbitration{Request: 0x7E0, RequestExtension: 0, ReplyPattern: 0x7E8, ReplyMask: 0x7FF, ReplyExtension: 0}
	p := SetArbitration(0x02, arb)
	h, err := p.Channel()
	if err != nil || h != 0x02 {
		t.Fatalf("Channel() = (%v, %v)", h, err)
	}
	got, err := p.Arbitration()
	if err != nil || got != arb {
		t.Fatalf("Arbitration() = (%+v, %v), want %+v", got, err, arb)
	}
}

func TestAccessors_Info(t *testing.T) {
	p := Info("Automotive-Swift", "CANyonero", "rev-b", "SN-0001", "1.2.3")
	vendor, model, hw, serial, fw, err := p.Info()
	if err != nil {
		t.Fatalf("Info(): %v", err)
	}
	if vendor != "Automotive-Swift" || model != "CANyonero" || hw != "rev-b" || serial != "SN-0001" || fw != "1.2.3" {
		t.Fatalf("Info() = %q %q %q %q %q", vendor, model, hw, serial, fw)
	}
	if bytes.Contains(p.Raw(), []byte("\n\n")) {
		t.Fatalf("info payload should not have empty fields")
	}
	if p.Raw()[len(p.Raw())-1] == '\n' {
		t.Fatalf("info payload must not have a trailing newline")
	}
}
