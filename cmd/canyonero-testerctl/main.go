// Command canyonero-testerctl is a minimal reference client standing in for
// the host-side runtime wrapper spec.md places out of scope for the core: it
// dials an adapter, sends one command, and prints the decoded reply. It is a
// smoke-test harness, not a host SDK.
package main

import (
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/kstaniek/canyonero/internal/pdu"
)

func main() {
	addr := flag.String("addr", "localhost:129", "adapter TCP address")
	timeout := flag.Duration("timeout", 2*time.Second, "reply wait timeout")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	req, err := buildRequest(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	conn, err := net.DialTimeout("tcp", *addr, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	defer conn.Close()

	reply, err := roundTrip(conn, req, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	printReply(reply)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: canyonero-testerctl [-addr host:port] <command>
commands:
  ping
  info
  voltage
  open <protocol>           protocol: rawcan|isotp|iso9141|kwp2000
  send <handle> <hexdata>`)
}

func buildRequest(args []string) (pdu.PDU, error) {
	switch args[0] {
	case "ping":
		return pdu.Ping(nil), nil
	case "info":
		return pdu.RequestInfo(), nil
	case "voltage":
		return pdu.ReadVoltage(), nil
	case "open":
		if len(args) < 2 {
			return pdu.PDU{}, fmt.Errorf("open requires a protocol argument")
		}
		proto, err := parseProtocol(args[1])
		if err != nil {
			return pdu.PDU{}, err
		}
		return pdu.OpenChannel(proto), nil
	case "send":
		if len(args) < 3 {
			return pdu.PDU{}, fmt.Errorf("send requires <handle> <hexdata>")
		}
		h, err := strconv.ParseUint(args[1], 0, 8)
		if err != nil {
			return pdu.PDU{}, fmt.Errorf("invalid handle: %w", err)
		}
		data, err := hex.DecodeString(args[2])
		if err != nil {
			return pdu.PDU{}, fmt.Errorf("invalid hex data: %w", err)
		}
		return pdu.Send(byte(h), data), nil
	default:
		return pdu.PDU{}, fmt.Errorf("unknown command %q", args[0])
	}
}

func parseProtocol(s string) (pdu.ChannelProtocol, error) {
	switch s {
	case "rawcan":
		return pdu.ProtocolRawCAN, nil
	case "isotp":
		return pdu.ProtocolISOTP, nil
	case "iso9141":
		return pdu.ProtocolISO9141, nil
	case "kwp2000":
		return pdu.ProtocolKWP2000, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
}

func roundTrip(conn net.Conn, req pdu.PDU, timeout time.Duration) (pdu.PDU, error) {
	out, err := req.Encode()
	if err != nil {
		return pdu.PDU{}, fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(out); err != nil {
		return pdu.PDU{}, fmt.Errorf("write request: %w", err)
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 512)
	acc := bytes.NewBuffer(nil)
	for {
		if frameLen, ok := pdu.Probe(acc.Bytes()); ok {
			frame := make([]byte, frameLen)
			copy(frame, acc.Bytes()[:frameLen])
			return pdu.Decode(frame)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return pdu.PDU{}, err
		}
		n, err := conn.Read(buf)
		if err != nil {
			return pdu.PDU{}, fmt.Errorf("read reply: %w", err)
		}
		acc.Write(buf[:n])
	}
}

func printReply(reply pdu.PDU) {
	switch reply.Type() {
	case pdu.TypePong:
		payload, _ := reply.DataSlice()
		fmt.Printf("pong: %s\n", hex.EncodeToString(payload))
	case pdu.TypeInfo:
		vendor, model, hardware, serial, firmware, _ := reply.Info()
		fmt.Printf("info: vendor=%s model=%s hardware=%s serial=%s firmware=%s\n",
			vendor, model, hardware, serial, firmware)
	case pdu.TypeVoltage:
		mv, _ := reply.Voltage()
		fmt.Printf("voltage: %d mV\n", mv)
	case pdu.TypeChannelOpened:
		h, _ := reply.Channel()
		fmt.Printf("channel opened: handle=%d\n", h)
	case pdu.TypeSent:
		h, _ := reply.Channel()
		n, _ := reply.SentByteCount()
		fmt.Printf("sent: handle=%d bytes=%d\n", h, n)
	default:
		if reply.Type().IsError() {
			fmt.Printf("error: type=0x%02X\n", byte(reply.Type()))
			return
		}
		fmt.Printf("reply: type=0x%02X\n", byte(reply.Type()))
	}
}
