package feedstream

import (
	"encoding/binary"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// tcpFrame builds a length-prefixed TCP frame: a 4-byte big-endian
// total length (prefix included) followed by body.
func tcpFrame(body string) []byte {
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(frame)))
	copy(frame[4:], body)
	return frame
}

func TestDialTCPReceivesInitThenPayloads(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		serverConnCh <- conn
	}()

	stream, err := DialTCP(ln.Addr().String(), []byte("INIT"), time.Hour)
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer stream.Close()

	serverConn := <-serverConnCh
	defer serverConn.Close()

	initBuf := make([]byte, 4)
	if _, err := serverConn.Read(initBuf); err != nil {
		t.Fatalf("read init: %v", err)
	}
	if string(initBuf) != "INIT" {
		t.Fatalf("got init %q, want INIT", initBuf)
	}

	frame := tcpFrame("hello")
	if _, err := serverConn.Write(frame); err != nil {
		t.Fatalf("server write: %v", err)
	}

	payload, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(payload.Data) != string(frame) {
		t.Fatalf("got payload %q, want %q", payload.Data, frame)
	}
}

func TestDialTCPReassemblesPartialFrame(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		serverConnCh <- conn
	}()

	stream, err := DialTCP(ln.Addr().String(), []byte("INIT"), time.Hour)
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer stream.Close()

	serverConn := <-serverConnCh
	defer serverConn.Close()

	initBuf := make([]byte, 4)
	if _, err := serverConn.Read(initBuf); err != nil {
		t.Fatalf("read init: %v", err)
	}

	frame := tcpFrame("partial-frame-payload")
	// Dribble the frame out a few bytes at a time, including splitting
	// the length prefix itself, so a correct reader must buffer across
	// multiple kernel reads before it has a complete frame.
	for _, chunk := range [][]byte{frame[:2], frame[2:4], frame[4:10], frame[10:]} {
		if _, err := serverConn.Write(chunk); err != nil {
			t.Fatalf("server write chunk: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	payload, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(payload.Data) != string(frame) {
		t.Fatalf("got payload %q, want %q", payload.Data, frame)
	}
}

func TestDialTCPSplitsConcatenatedFrames(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		serverConnCh <- conn
	}()

	stream, err := DialTCP(ln.Addr().String(), []byte("INIT"), time.Hour)
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer stream.Close()

	serverConn := <-serverConnCh
	defer serverConn.Close()

	initBuf := make([]byte, 4)
	if _, err := serverConn.Read(initBuf); err != nil {
		t.Fatalf("read init: %v", err)
	}

	frameA := tcpFrame("first")
	frameB := tcpFrame("second")
	// A single kernel read may deliver more than one frame's worth of
	// bytes; the reader must split them apart rather than emitting one
	// oversized Payload.
	if _, err := serverConn.Write(append(append([]byte{}, frameA...), frameB...)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	first, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv first: %v", err)
	}
	if string(first.Data) != string(frameA) {
		t.Fatalf("got first payload %q, want %q", first.Data, frameA)
	}

	second, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv second: %v", err)
	}
	if string(second.Data) != string(frameB) {
		t.Fatalf("got second payload %q, want %q", second.Data, frameB)
	}
}

func TestDialTCPHeartbeatFailurePropagates(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		serverConnCh <- conn
	}()

	stream, err := DialTCP(ln.Addr().String(), nil, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("DialTCP: %v", err)
	}
	defer stream.Close()

	serverConn := <-serverConnCh
	serverConn.Close()

	if _, err := stream.Recv(); err == nil {
		t.Fatalf("expected an error after server closed the connection")
	}
}

var upgrader = websocket.Upgrader{}

func TestDialWSReceivesInitThenPayloads(t *testing.T) {
	var gotInit []byte
	serverMsgCh := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("server read init: %v", err)
			return
		}
		gotInit = data
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte("payload")); err != nil {
			t.Errorf("server write: %v", err)
			return
		}
		close(serverMsgCh)
		<-r.Context().Done()
	}))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	stream, err := DialWS(wsURL, nil, []byte("INIT"), time.Hour)
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer stream.Close()

	payload, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(payload.Data) != "payload" {
		t.Fatalf("got payload %q, want payload", payload.Data)
	}
	<-serverMsgCh
	if string(gotInit) != "INIT" {
		t.Fatalf("got init %q, want INIT", gotInit)
	}
}

func TestDialWSHeartbeatFailurePropagates(t *testing.T) {
	connCh := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Errorf("server read init: %v", err)
			return
		}
		connCh <- conn
		<-r.Context().Done()
	}))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	stream, err := DialWS(wsURL, nil, []byte("INIT"), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer stream.Close()

	serverConn := <-connCh
	serverConn.Close()

	if _, err := stream.Recv(); err == nil {
		t.Fatalf("expected an error once the heartbeat write fails against a closed connection")
	}
}
