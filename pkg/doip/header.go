package doip

import "encoding/binary"

// HeaderSize is the fixed DoIP header length (spec.md §3): version (u8),
// inverse_version (u8), type (u16), payload_length (u32), all big-endian.
const HeaderSize = 8

// Payload types this tester sends or understands (spec.md §3).
const (
	PayloadTypeRoutingActivationRequest  uint16 = 0x0005
	PayloadTypeRoutingActivationResponse uint16 = 0x0006
	PayloadTypeDiagnosticMessage         uint16 = 0x8001
	PayloadTypeDiagnosticMessageAck      uint16 = 0x8002
)

// Header is a decoded DoIP header.
type Header struct {
	Version         uint8
	InverseVersion  uint8
	Type            uint16
	PayloadLength   uint32
}

// EncodeHeader renders a Header as its 8-byte wire form.
func EncodeHeader(h Header) []byte {
	b := make([]byte, HeaderSize)
	b[0] = h.Version
	b[1] = h.InverseVersion
	binary.BigEndian.PutUint16(b[2:4], h.Type)
	binary.BigEndian.PutUint32(b[4:8], h.PayloadLength)
	return b
}

// DecodeHeader parses the first 8 bytes of b as a Header. It requires
// len(b) >= HeaderSize.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrInvalidData
	}
	return Header{
		Version:        b[0],
		InverseVersion: b[1],
		Type:           binary.BigEndian.Uint16(b[2:4]),
		PayloadLength:  binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// ParseFrame validates that a complete frame (header + payload, as a
// single contiguous slice) declares a payload_length matching the actual
// number of payload bytes present (spec.md §8, testable property 7).
// It returns the decoded header and the payload slice.
func ParseFrame(data []byte) (Header, []byte, error) {
	header, err := DecodeHeader(data)
	if err != nil {
		return Header{}, nil, err
	}
	actual := uint32(len(data) - HeaderSize)
	if header.PayloadLength != actual {
		return Header{}, nil, ErrInvalidData
	}
	return header, data[HeaderSize:], nil
}
