package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/andybalholm/brotli"

	"livekit-feed/internal/feederr"
)

func frame(protoVer uint16, msgType uint32, payload []byte) []byte {
	h := Header{
		TotalLength:  uint32(HeaderLength + len(payload)),
		HeaderLength: HeaderLength,
		ProtoVer:     protoVer,
		MsgType:      msgType,
		Sequence:     1,
	}
	buf, _ := h.MarshalBinary()
	return append(buf, payload...)
}

func TestDecodeJSON(t *testing.T) {
	f := frame(protoJSON, msgJSON, []byte(`{"cmd":"DANMU_MSG"}`))
	pkt, err := Decode(f)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	j, ok := pkt.(Json)
	if !ok {
		t.Fatalf("got %T, want Json", pkt)
	}
	if j.Text != `{"cmd":"DANMU_MSG"}` {
		t.Fatalf("unexpected text %q", j.Text)
	}
}

func TestDecodeInitRoundTrip(t *testing.T) {
	req := InitRequest{Text: `{"roomid":123,"key":"abc"}`}
	encoded, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	pkt, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := pkt.(InitRequest)
	if !ok || got.Text != req.Text {
		t.Fatalf("got %#v, want %#v", pkt, req)
	}
}

func TestDecodeHeartbeatRequestRoundTrip(t *testing.T) {
	encoded, err := Encode(HeartbeatRequest{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	pkt, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := pkt.(HeartbeatRequest); !ok {
		t.Fatalf("got %T, want HeartbeatRequest", pkt)
	}
}

func TestDecodeHeartbeatResponse(t *testing.T) {
	f := frame(protoSpecial, msgHeartbeatResponse, []byte{0, 0, 1, 44})
	pkt, err := Decode(f)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	hb, ok := pkt.(HeartbeatResponse)
	if !ok || hb.Value != 300 {
		t.Fatalf("got %#v, want Value=300", pkt)
	}
}

func TestDecodeHeartbeatResponseWrongLength(t *testing.T) {
	for _, n := range []int{0, 3, 5} {
		f := frame(protoSpecial, msgHeartbeatResponse, make([]byte, n))
		if _, err := Decode(f); err == nil {
			t.Fatalf("payload length %d: expected error, got nil", n)
		}
	}
}

func TestDecodeUnknownHeaderLength(t *testing.T) {
	h := Header{TotalLength: 20, HeaderLength: 20, ProtoVer: 0, MsgType: 5, Sequence: 1}
	buf, _ := h.MarshalBinary()
	buf = append(buf, []byte("xx")...)
	_, err := Decode(buf)
	var target *feederr.UnknownHeadLength
	if !errors.As(err, &target) {
		t.Fatalf("got %v (%T), want *feederr.UnknownHeadLength", err, err)
	}
	if target.Got != 20 {
		t.Fatalf("Got=%d, want 20", target.Got)
	}
}

func TestDecodeIncorrectPayloadLength(t *testing.T) {
	f := frame(protoJSON, msgJSON, []byte("hello"))
	truncated := f[:len(f)-1]
	_, err := Decode(truncated)
	var target *feederr.IncorrectPayloadLength
	if !errors.As(err, &target) {
		t.Fatalf("got %v (%T), want *feederr.IncorrectPayloadLength", err, err)
	}
}

func TestDecodeUnknownPayloadType(t *testing.T) {
	f := frame(9, 99, nil)
	_, err := Decode(f)
	var target *feederr.UnknownPayloadType
	if !errors.As(err, &target) {
		t.Fatalf("got %v (%T), want *feederr.UnknownPayloadType", err, err)
	}
	if target.ProtoVer != 9 || target.MsgType != 99 {
		t.Fatalf("unexpected fields: %#v", target)
	}
}

func TestDecodeMultiBrotli(t *testing.T) {
	inner1 := frame(protoJSON, msgJSON, []byte(`{"cmd":"A"}`))
	inner2 := frame(protoJSON, msgJSON, []byte(`{"cmd":"B"}`))
	concat := append(append([]byte{}, inner1...), inner2...)

	var compressed bytes.Buffer
	w := brotli.NewWriter(&compressed)
	if _, err := w.Write(concat); err != nil {
		t.Fatalf("brotli write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("brotli close: %v", err)
	}

	outer := frame(protoBrotli, msgJSON, compressed.Bytes())
	pkt, err := Decode(outer)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	multi, ok := pkt.(Multi)
	if !ok {
		t.Fatalf("got %T, want Multi", pkt)
	}
	if len(multi.Packets) != 2 {
		t.Fatalf("got %d sub-packets, want 2", len(multi.Packets))
	}
	first, ok := multi.Packets[0].(Json)
	if !ok || first.Text != `{"cmd":"A"}` {
		t.Fatalf("first sub-packet = %#v", multi.Packets[0])
	}
}

func TestDecodeMultiUnpackLeak(t *testing.T) {
	inner := frame(protoJSON, msgJSON, []byte(`{"cmd":"A"}`))
	leaky := append(append([]byte{}, inner...), 0x01, 0x02, 0x03)

	var compressed bytes.Buffer
	w := brotli.NewWriter(&compressed)
	if _, err := w.Write(leaky); err != nil {
		t.Fatalf("brotli write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("brotli close: %v", err)
	}

	outer := frame(protoBrotli, msgJSON, compressed.Bytes())
	_, err := Decode(outer)
	var target *feederr.UnpackLeak
	if !errors.As(err, &target) {
		t.Fatalf("got %v (%T), want *feederr.UnpackLeak", err, err)
	}
}

func TestEncodeNotEncodable(t *testing.T) {
	_, err := Encode(Json{Text: "x"})
	var target *feederr.NotEncodable
	if !errors.As(err, &target) {
		t.Fatalf("got %v (%T), want *feederr.NotEncodable", err, err)
	}
}

func TestFlattenNested(t *testing.T) {
	leaf1 := Json{Text: "1"}
	leaf2 := Json{Text: "2"}
	leaf3 := Json{Text: "3"}
	nested := Multi{Packets: []Packet{
		leaf1,
		Multi{Packets: []Packet{leaf2, leaf3}},
	}}
	got := Flatten(nested)
	want := []Packet{leaf1, leaf2, leaf3}
	if len(got) != len(want) {
		t.Fatalf("got %d leaves, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("leaf %d: got %#v, want %#v", i, got[i], want[i])
		}
	}
}

func TestFlattenPlainPacket(t *testing.T) {
	p := HeartbeatRequest{}
	got := Flatten(p)
	if len(got) != 1 || got[0] != Packet(p) {
		t.Fatalf("got %#v, want single-element slice of p", got)
	}
}
