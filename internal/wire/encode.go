package wire

import (
	"fmt"

	"livekit-feed/internal/feederr"
)

// Encode serializes a Packet for the outbound direction. Only the two
// client-originated kinds are supported; everything else this program
// only ever decodes.
func Encode(p Packet) ([]byte, error) {
	switch v := p.(type) {
	case HeartbeatRequest:
		return encodeFrame(protoSpecial, msgHeartbeatRequest, nil)
	case InitRequest:
		return encodeFrame(protoSpecial, msgInitRequest, []byte(v.Text))
	default:
		return nil, &feederr.NotEncodable{Kind: fmt.Sprintf("%T", p)}
	}
}

func encodeFrame(protoVer uint16, msgType uint32, payload []byte) ([]byte, error) {
	header := Header{
		TotalLength:  uint32(HeaderLength + len(payload)),
		HeaderLength: HeaderLength,
		ProtoVer:     protoVer,
		MsgType:      msgType,
		Sequence:     1,
	}
	buf, err := header.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(buf, payload...), nil
}
