// Package packet implements the versioned radio wire format shared by the
// satellite and ground builds: framing, checksum, fragmentation and
// reassembly between payload bytes and on-air frames.
package packet

import "encoding/binary"

// Wire layout (big-endian):
//
//	ver(1) | src(1) | dst(1) | type(1) | seq(1) | fragIdx(1) | fragTotal(1) | payloadLen(1) | crc16(2)
//
// followed by payloadLen payload bytes. The CRC covers the header with the
// CRC field zeroed plus the payload. Both sides must run the same Version;
// a mismatch is rejected before any field is interpreted further.
const (
	Version = 1

	HeaderSize = 10

	// MaxFrameSize is the largest single radio transmission the modem
	// accepts (RYLR-class LoRa payload limit).
	MaxFrameSize = 240

	// MaxFragmentPayload is the payload capacity of one frame.
	MaxFragmentPayload = MaxFrameSize - HeaderSize
)

// Type identifies what a packet's payload carries.
type Type byte

const (
	TypeTelemetry Type = 0x01
	TypeCommand   Type = 0x02
	TypeAck       Type = 0x03
)

func (t Type) valid() bool {
	switch t {
	case TypeTelemetry, TypeCommand, TypeAck:
		return true
	}
	return false
}

// Packet is one header + payload unit. It is constructed per send and
// reconstructed per receive, never mutated after construction.
type Packet struct {
	Src       byte
	Dst       byte
	Type      Type
	Seq       uint8
	FragIndex uint8
	FragTotal uint8
	Payload   []byte
}

// Marshal serialises the packet into an on-air frame.
func (p Packet) Marshal() ([]byte, error) {
	if len(p.Payload) > MaxFragmentPayload {
		return nil, ErrPayloadTooLarge
	}
	frame := make([]byte, HeaderSize+len(p.Payload))
	frame[0] = Version
	frame[1] = p.Src
	frame[2] = p.Dst
	frame[3] = byte(p.Type)
	frame[4] = p.Seq
	frame[5] = p.FragIndex
	frame[6] = p.FragTotal
	frame[7] = byte(len(p.Payload))
	copy(frame[HeaderSize:], p.Payload)
	// CRC is computed with its own field still zero.
	binary.BigEndian.PutUint16(frame[8:10], Checksum(frame))
	return frame, nil
}

// Decode parses and validates a received frame. It returns ErrVersionMismatch,
// ErrMalformed or ErrChecksumMismatch without consuming anything beyond the
// declared frame length, so a caller may resynchronise on the rest of its
// receive buffer.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, ErrMalformed
	}
	if data[0] != Version {
		return Packet{}, ErrVersionMismatch
	}
	payloadLen := int(data[7])
	if len(data) < HeaderSize+payloadLen {
		return Packet{}, ErrMalformed
	}
	frame := data[:HeaderSize+payloadLen]

	want := binary.BigEndian.Uint16(frame[8:10])
	scratch := make([]byte, len(frame))
	copy(scratch, frame)
	scratch[8], scratch[9] = 0, 0
	if Checksum(scratch) != want {
		return Packet{}, ErrChecksumMismatch
	}

	p := Packet{
		Src:       frame[1],
		Dst:       frame[2],
		Type:      Type(frame[3]),
		Seq:       frame[4],
		FragIndex: frame[5],
		FragTotal: frame[6],
	}
	if !p.Type.valid() || p.FragTotal == 0 || p.FragIndex >= p.FragTotal {
		return Packet{}, ErrMalformed
	}
	if payloadLen > 0 {
		p.Payload = make([]byte, payloadLen)
		copy(p.Payload, frame[HeaderSize:])
	}
	return p, nil
}
