// Package protocol implements the wire format spoken between nodes.
//
// Every message is framed as
//
//	[magic:4][command:12][length:4][checksum:4][payload:length]
//
// Integers are little-endian. The command is ASCII, right padded with zero
// bytes. The checksum is the first 4 bytes of the double SHA256 of the
// payload. Payloads are canonical msgpack documents of the types defined in
// payloads.go.
package protocol
