package protocol

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed 8-byte packet header.
//
// Layout:
//
//	[OP][FLAGS][LEN_H][LEN_L][GROUP_H][GROUP_L][SEQ][CMD]
//
// Only the low three bits of the first byte carry the operation.
type Header struct {
	Op    Op
	Flags uint8

	// Length is the encoded payload length in bytes
	Length uint16

	Group    Group
	Sequence uint8
	Command  uint8
}

// Bytes returns the wire form of the header.
func (h Header) Bytes() []byte {
	return h.AppendTo(make([]byte, 0, HeaderLength))
}

// AppendTo appends the wire form of the header to dst.
func (h Header) AppendTo(dst []byte) []byte {
	dst = append(dst, byte(h.Op)&opMask, h.Flags)
	dst = binary.BigEndian.AppendUint16(dst, h.Length)
	dst = binary.BigEndian.AppendUint16(dst, uint16(h.Group))
	return append(dst, h.Sequence, h.Command)
}

// ParseHeader reads a header from the first HeaderLength bytes of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderLength {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrTruncatedResponse, HeaderLength, len(data))
	}
	return Header{
		Op:       Op(data[0] & opMask),
		Flags:    data[1],
		Length:   binary.BigEndian.Uint16(data[2:4]),
		Group:    Group(binary.BigEndian.Uint16(data[4:6])),
		Sequence: data[6],
		Command:  data[7],
	}, nil
}

func (h Header) String() string {
	return fmt.Sprintf("%s group=%s cmd=%d seq=%d len=%d", h.Op, h.Group, h.Command, h.Sequence, h.Length)
}
