// Package wire implements the push-channel packet codec: frame parsing,
// the recursive Brotli-backed Multi unpack, flatten, and the small outbound
// encoder. It is a pure library with no socket or retry concerns of its
// own; internal/feedstream is the only consumer that touches a connection.
package wire

// Packet is the decoded, immutable representation of one frame. It has no
// identity: two decodes of the same bytes produce equal Packets.
//
// Represented as a closed tagged union via an unexported marker method,
// the idiomatic Go equivalent of the recursive sum type in the design
// notes ("Nested dynamic variants").
type Packet interface {
	isPacket()
}

// InitRequest is the outbound handshake frame: protover/roomid/key JSON
// text. Also decodable on the rare path where a server echoes one back.
type InitRequest struct {
	Text string
}

func (InitRequest) isPacket() {}

// InitResponse is the server's reply to InitRequest, proto_ver=1 msg_type=8.
type InitResponse struct {
	Text string
}

func (InitResponse) isPacket() {}

// HeartbeatRequest is the empty outbound keepalive, proto_ver=1 msg_type=2.
type HeartbeatRequest struct{}

func (HeartbeatRequest) isPacket() {}

// HeartbeatResponse carries the server's popularity count, proto_ver=1
// msg_type=3, a 4-byte big-endian u32 payload.
type HeartbeatResponse struct {
	Value uint32
}

func (HeartbeatResponse) isPacket() {}

// Json is a single decoded command frame, proto_ver=0 msg_type=5, UTF-8
// JSON text.
type Json struct {
	Text string
}

func (Json) isPacket() {}

// Multi carries an ordered sequence of sub-packets produced by
// Brotli-unpacking a compressed frame (proto_ver=3 msg_type=5). Multi may
// nest to arbitrary depth; Flatten descends it iteratively.
type Multi struct {
	Packets []Packet
}

func (Multi) isPacket() {}
