// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package t2u

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// PacketType identifies the kind of message carried by a packet.
type PacketType byte

const (
	PacketConnect PacketType = iota
	PacketConnectAck
	PacketConnectFail
	PacketData
	PacketAck
	PacketClose
	PacketPing
)

func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "CONNECT"
	case PacketConnectAck:
		return "CONNECT_ACK"
	case PacketConnectFail:
		return "CONNECT_FAIL"
	case PacketData:
		return "DATA"
	case PacketAck:
		return "ACK"
	case PacketClose:
		return "CLOSE"
	case PacketPing:
		return "PING"
	default:
		return "UNKNOWN"
	}
}

// Reason codes carried by a CONNECT_FAIL packet's single payload byte.
const (
	ReasonUnknownService byte = iota + 1
	ReasonConnectRefused
)

const (
	protocolMagic   uint16 = 0x7455 // 'tU'
	protocolVersion byte   = 1

	// headerSize is the fixed on-wire header width in bytes:
	// magic(2) version(1) type(1) session_id(2) peer_session_id(2) sequence(4) payload_length(2)
	headerSize = 2 + 1 + 1 + 2 + 2 + 4 + 2

	// mtuCeiling bounds header+payload so a packet never needs IP fragmentation.
	mtuCeiling = 1400

	// MaxPayload is the largest payload a single packet may carry.
	MaxPayload = mtuCeiling - headerSize

	// MaxServiceNameLength bounds a CONNECT packet's service-name payload.
	MaxServiceNameLength = 255
)

// ErrMalformedPacket is returned by Decode when a datagram fails the
// magic/version/length checks. Callers should forward the raw bytes to the
// unknown-packet handler rather than treat this as fatal.
var ErrMalformedPacket = errors.New("t2u: malformed packet")

// Packet is the in-memory mirror of a single UDP datagram of this protocol.
type Packet struct {
	Type          PacketType
	SessionID     uint16 // sender's session id, 0 before assignment
	PeerSessionID uint16 // recipient's session id, 0 if unknown
	Sequence      uint32
	Payload       []byte
}

// Encode serializes p into buf, which must have length >= headerSize+len(p.Payload).
// It returns the number of bytes written.
func Encode(p *Packet, buf []byte) (int, error) {
	n := headerSize + len(p.Payload)
	if n > mtuCeiling {
		return 0, errors.Errorf("t2u: packet of %d bytes exceeds mtu ceiling %d", n, mtuCeiling)
	}
	if len(buf) < n {
		return 0, errors.Errorf("t2u: encode buffer too small: have %d need %d", len(buf), n)
	}

	binary.BigEndian.PutUint16(buf[0:2], protocolMagic)
	buf[2] = protocolVersion
	buf[3] = byte(p.Type)
	binary.BigEndian.PutUint16(buf[4:6], p.SessionID)
	binary.BigEndian.PutUint16(buf[6:8], p.PeerSessionID)
	binary.BigEndian.PutUint32(buf[8:12], p.Sequence)
	binary.BigEndian.PutUint16(buf[12:14], uint16(len(p.Payload)))
	copy(buf[headerSize:n], p.Payload)
	return n, nil
}

// Decode parses a single UDP datagram. On magic/version/length mismatch it
// returns ErrMalformedPacket (wrapped); callers should route the raw bytes
// to the unknown-packet handler instead of treating this as fatal.
func Decode(raw []byte) (*Packet, error) {
	if len(raw) < headerSize {
		return nil, errors.Wrap(ErrMalformedPacket, "short header")
	}
	magic := binary.BigEndian.Uint16(raw[0:2])
	if magic != protocolMagic {
		return nil, errors.Wrap(ErrMalformedPacket, "bad magic")
	}
	version := raw[2]
	if version != protocolVersion {
		return nil, errors.Wrap(ErrMalformedPacket, "unsupported version")
	}

	plen := binary.BigEndian.Uint16(raw[12:14])
	if int(plen) != len(raw)-headerSize {
		return nil, errors.Wrap(ErrMalformedPacket, "length mismatch")
	}

	p := &Packet{
		Type:          PacketType(raw[3]),
		SessionID:     binary.BigEndian.Uint16(raw[4:6]),
		PeerSessionID: binary.BigEndian.Uint16(raw[6:8]),
		Sequence:      binary.BigEndian.Uint32(raw[8:12]),
	}
	if plen > 0 {
		p.Payload = append([]byte(nil), raw[headerSize:]...)
	}

	switch p.Type {
	case PacketConnect, PacketConnectAck, PacketConnectFail, PacketData, PacketAck, PacketClose, PacketPing:
	default:
		return nil, errors.Wrap(ErrMalformedPacket, "unknown packet type")
	}
	if p.Type == PacketConnect && len(p.Payload) > MaxServiceNameLength {
		return nil, errors.Wrap(ErrMalformedPacket, "oversized service name")
	}
	if p.Type == PacketConnectFail && len(p.Payload) != 1 {
		return nil, errors.Wrap(ErrMalformedPacket, "malformed connect-fail payload")
	}
	return p, nil
}
