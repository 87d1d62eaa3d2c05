// Package protocol implements MCU manager (SMP) packet framing and response
// mapping.
//
// # Packet Overview
//
// Every request and response carries an 8-byte header followed by a CBOR map:
//
//	[OP][FLAGS][LEN_H][LEN_L][GROUP_H][GROUP_L][SEQ][CMD][CBOR PAYLOAD...]
//
// Where:
//   - OP = operation in the low 3 bits (read, read-response, write, write-response)
//   - LEN = payload length (big-endian)
//   - GROUP = command group id (big-endian)
//   - SEQ = sequence number echoed by the device
//   - CMD = command id within the group
//
// CoAP schemes cannot carry a separate binary header, so the header travels
// inside the payload map as a byte string under the "_h" key and the packet is
// the encoded map alone.
//
// # Building Requests
//
//	packet := protocol.BuildPacket(protocol.SchemeBLE, protocol.OpRead, 0,
//	    protocol.GroupDefault, seq, protocol.CmdEcho,
//	    map[string]cbor.Value{"d": cbor.Text("hello")})
//
// # Parsing Responses
//
//	resp, err := protocol.ParseResponse(scheme, raw, nil, 0)
//	if err != nil {
//	    return err
//	}
//	if err := resp.Err("echo"); err != nil {
//	    // err is a *protocol.ReturnCodeError
//	}
//	echo := protocol.ParseEchoResponse(resp)
//
// A missing "rc" field means success. Fields of an unexpected type are left
// at their zero value.
package protocol
