package t2u

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Packet{
		{Type: PacketConnect, SessionID: 7, Payload: []byte("web")},
		{Type: PacketConnectAck, SessionID: 7, PeerSessionID: 9},
		{Type: PacketConnectFail, PeerSessionID: 9, Payload: []byte{ReasonUnknownService}},
		{Type: PacketData, SessionID: 7, PeerSessionID: 9, Sequence: 42, Payload: bytes.Repeat([]byte{0xAB}, 100)},
		{Type: PacketAck, SessionID: 7, PeerSessionID: 9, Sequence: 42},
		{Type: PacketClose, SessionID: 7, PeerSessionID: 9},
		{Type: PacketPing, SessionID: 7, PeerSessionID: 9},
	}
	for _, p := range cases {
		buf := make([]byte, mtuCeiling)
		n, err := Encode(&p, buf)
		if err != nil {
			t.Fatalf("Encode(%v): %v", p.Type, err)
		}
		got, err := Decode(buf[:n])
		if err != nil {
			t.Fatalf("Decode(%v): %v", p.Type, err)
		}
		if got.Type != p.Type || got.SessionID != p.SessionID || got.PeerSessionID != p.PeerSessionID || got.Sequence != p.Sequence {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, p)
		}
		if !bytes.Equal(got.Payload, p.Payload) {
			t.Fatalf("payload mismatch: got %x want %x", got.Payload, p.Payload)
		}
	}
}

func TestEncodeRejectsOversizedPacket(t *testing.T) {
	p := Packet{Type: PacketData, Payload: make([]byte, MaxPayload+1)}
	buf := make([]byte, mtuCeiling+100)
	if _, err := Encode(&p, buf); err == nil {
		t.Fatalf("expected error for payload exceeding mtu ceiling")
	}
}

func TestEncodeRejectsSmallBuffer(t *testing.T) {
	p := Packet{Type: PacketData, Payload: []byte("hi")}
	buf := make([]byte, headerSize)
	if _, err := Encode(&p, buf); err == nil {
		t.Fatalf("expected error for undersized destination buffer")
	}
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	if _, err := Decode(make([]byte, headerSize-1)); err == nil {
		t.Fatalf("expected error for short header")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := make([]byte, headerSize)
	buf[0], buf[1] = 0x00, 0x00
	if _, err := Decode(buf); err == nil {
		t.Fatalf("expected error for bad magic")
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	p := Packet{Type: PacketData, Payload: []byte("hello")}
	buf := make([]byte, mtuCeiling)
	n, err := Encode(&p, buf)
	if err != nil {
		t.Fatal(err)
	}
	// truncate the payload without correcting the length field
	if _, err := Decode(buf[:n-1]); err == nil {
		t.Fatalf("expected error for length field/body mismatch")
	}
}

func TestDecodeRejectsOversizedServiceName(t *testing.T) {
	p := Packet{Type: PacketConnect, Payload: make([]byte, MaxServiceNameLength+1)}
	buf := make([]byte, mtuCeiling)
	n, err := Encode(&p, buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(buf[:n]); err == nil {
		t.Fatalf("expected error for oversized service name")
	}
}

func TestDecodeRejectsMalformedConnectFail(t *testing.T) {
	p := Packet{Type: PacketConnectFail, Payload: []byte{1, 2}}
	buf := make([]byte, mtuCeiling)
	n, err := Encode(&p, buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(buf[:n]); err == nil {
		t.Fatalf("expected error for multi-byte connect-fail payload")
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	p := Packet{Type: PacketPing}
	buf := make([]byte, mtuCeiling)
	n, err := Encode(&p, buf)
	if err != nil {
		t.Fatal(err)
	}
	buf[3] = 0xFF // corrupt the type byte past the last known value
	if _, err := Decode(buf[:n]); err == nil {
		t.Fatalf("expected error for unknown packet type")
	}
}
