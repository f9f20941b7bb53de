package wire

import (
	"encoding/binary"
	"fmt"

	"livekit-feed/internal/feederr"
)

// HeaderLength is the fixed size of a frame header. Frames whose header
// declares any other length are rejected before any further parsing.
const HeaderLength = 16

var errTooShort = fmt.Errorf("slice shorter than required length")

// Header is the five-field frame header from spec.md §3, always 16 bytes,
// big-endian throughout. Field order is fixed and explicit here rather
// than inferred from struct declaration order or a codegen macro, per the
// "macro-expanded per-field codecs" design note: MarshalBinary/
// UnmarshalBinary are the single source of truth for layout.
type Header struct {
	TotalLength  uint32
	HeaderLength uint16
	ProtoVer     uint16
	MsgType      uint32
	Sequence     uint32
}

// MarshalBinary writes the header fields in on-the-wire order:
// total_length, header_length, proto_ver, msg_type, sequence.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderLength)
	binary.BigEndian.PutUint32(buf[0:4], h.TotalLength)
	binary.BigEndian.PutUint16(buf[4:6], h.HeaderLength)
	binary.BigEndian.PutUint16(buf[6:8], h.ProtoVer)
	binary.BigEndian.PutUint32(buf[8:12], h.MsgType)
	binary.BigEndian.PutUint32(buf[12:16], h.Sequence)
	return buf, nil
}

// UnmarshalHeader parses the fixed 16-byte header region of a frame.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLength {
		return Header{}, fmt.Errorf("feed: frame too short for header: %d bytes: %w", len(buf), errTooShort)
	}
	h := Header{
		TotalLength:  binary.BigEndian.Uint32(buf[0:4]),
		HeaderLength: binary.BigEndian.Uint16(buf[4:6]),
		ProtoVer:     binary.BigEndian.Uint16(buf[6:8]),
		MsgType:      binary.BigEndian.Uint32(buf[8:12]),
		Sequence:     binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.HeaderLength != HeaderLength {
		return Header{}, &feederr.UnknownHeadLength{Got: h.HeaderLength}
	}
	return h, nil
}
