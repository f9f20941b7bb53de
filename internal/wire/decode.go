package wire

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/andybalholm/brotli"

	"livekit-feed/internal/feederr"
)

// protocol version / message type pairs from the payload interpretation
// matrix in spec.md §3. Held as named constants rather than bare literals
// scattered through the switch in Decode.
const (
	protoJSON   uint16 = 0
	protoBrotli uint16 = 3
	protoSpecial uint16 = 1

	msgJSON              uint32 = 5
	msgHeartbeatResponse uint32 = 3
	msgInitResponse      uint32 = 8
	msgHeartbeatRequest  uint32 = 2
	msgInitRequest       uint32 = 7
)

// Decode parses one complete frame (header + payload) into a Packet.
func Decode(data []byte) (Packet, error) {
	header, err := UnmarshalHeader(data)
	if err != nil {
		return nil, err
	}
	if int(header.TotalLength) != len(data) {
		return nil, &feederr.IncorrectPayloadLength{Head: header.TotalLength, Actual: len(data) - HeaderLength}
	}
	payload := data[HeaderLength:]

	switch {
	case header.ProtoVer == protoJSON && header.MsgType == msgJSON:
		text, err := decodeUTF8(payload)
		if err != nil {
			return nil, err
		}
		return Json{Text: text}, nil

	case header.ProtoVer == protoBrotli && header.MsgType == msgJSON:
		decompressed, err := decompressBrotli(payload)
		if err != nil {
			return nil, fmt.Errorf("feed: brotli decompress: %w", err)
		}
		packets, err := unpackFrames(decompressed)
		if err != nil {
			return nil, err
		}
		return Multi{Packets: packets}, nil

	case header.ProtoVer == protoSpecial && header.MsgType == msgHeartbeatResponse:
		if len(payload) != 4 {
			return nil, fmt.Errorf("feed: heartbeat response payload must be 4 bytes, got %d: %w", len(payload), errTooShort)
		}
		return HeartbeatResponse{Value: beUint32(payload)}, nil

	case header.ProtoVer == protoSpecial && header.MsgType == msgInitResponse:
		text, err := decodeUTF8(payload)
		if err != nil {
			return nil, err
		}
		return InitResponse{Text: text}, nil

	case header.ProtoVer == protoSpecial && header.MsgType == msgHeartbeatRequest:
		if len(payload) != 0 {
			return nil, fmt.Errorf("feed: heartbeat request payload must be empty, got %d bytes", len(payload))
		}
		return HeartbeatRequest{}, nil

	case header.ProtoVer == protoSpecial && header.MsgType == msgInitRequest:
		text, err := decodeUTF8(payload)
		if err != nil {
			return nil, err
		}
		return InitRequest{Text: text}, nil

	default:
		return nil, &feederr.UnknownPayloadType{ProtoVer: header.ProtoVer, MsgType: header.MsgType}
	}
}

// unpackFrames walks a buffer that is a concatenation of complete frames
// (the result of a Brotli-decompressed Multi payload), decoding each one
// in turn. The walk is byte-exact: read the frame's declared total
// length, slice exactly that many bytes, decode, advance. A remainder
// that isn't itself a complete frame is an UnpackLeak.
func unpackFrames(buf []byte) ([]Packet, error) {
	var packets []Packet
	offset := 0
	total := len(buf)
	for offset < total {
		remaining := buf[offset:]
		if len(remaining) < HeaderLength {
			return nil, &feederr.UnpackLeak{Offset: offset, Total: total}
		}
		header, err := UnmarshalHeader(remaining)
		if err != nil {
			return nil, err
		}
		frameLen := int(header.TotalLength)
		if frameLen < HeaderLength || frameLen > len(remaining) {
			return nil, &feederr.UnpackLeak{Offset: offset, Total: total}
		}
		pkt, err := Decode(remaining[:frameLen])
		if err != nil {
			return nil, err
		}
		packets = append(packets, pkt)
		offset += frameLen
	}
	if offset != total {
		return nil, &feederr.UnpackLeak{Offset: offset, Total: total}
	}
	return packets, nil
}

func decompressBrotli(data []byte) ([]byte, error) {
	reader := brotli.NewReader(bytes.NewReader(data))
	return io.ReadAll(reader)
}

func decodeUTF8(payload []byte) (string, error) {
	if !utf8.Valid(payload) {
		return "", fmt.Errorf("feed: payload is not valid UTF-8")
	}
	return string(payload), nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
