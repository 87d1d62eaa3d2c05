package protocol

import (
	"github.com/moffa90/go-mcumgr/cbor"
)

// BuildPacket constructs a request packet for the given scheme.
//
// The payload map is encoded without any HeaderKey entry to learn its length.
// For raw schemes the result is:
//
//	[HEADER(8)][CBOR PAYLOAD...]
//
// For CoAP schemes the header is inserted into the payload as a byte string
// under HeaderKey (unless the caller already set one) and only the encoded
// map is returned.
func BuildPacket(scheme Scheme, op Op, flags uint8, group Group, seq uint8, cmd uint8, payload map[string]cbor.Value) []byte {
	entries := make([]cbor.Entry, 0, len(payload)+1)
	var callerHeader *cbor.Value
	for k, v := range payload {
		if k == HeaderKey {
			v := v
			callerHeader = &v
			continue
		}
		entries = append(entries, cbor.Entry{Key: cbor.Text(k), Value: v})
	}
	body := cbor.Marshal(cbor.Map(entries...))

	header := Header{
		Op:       op,
		Flags:    flags,
		Length:   uint16(len(body)),
		Group:    group,
		Sequence: seq,
		Command:  cmd,
	}

	if scheme.IsCoap() {
		h := cbor.Bytes(header.Bytes())
		if callerHeader != nil {
			h = *callerHeader
		}
		entries = append(entries, cbor.Entry{Key: cbor.Text(HeaderKey), Value: h})
		return cbor.Marshal(cbor.Map(entries...))
	}

	packet := make([]byte, 0, HeaderLength+len(body))
	packet = header.AppendTo(packet)
	return append(packet, body...)
}
