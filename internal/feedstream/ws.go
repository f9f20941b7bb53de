package feedstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"livekit-feed/internal/feed"
)

type wsStream struct {
	conn         *websocket.Conn
	recvCh       chan recvResult
	heartbeatErr chan error
	cancel       context.CancelFunc
}

// DialWS opens a WebSocket-over-TLS connection to url, sends initFrame
// as the first message, and starts the periodic heartbeat task. The
// returned Stream owns the connection: Close drops both halves and
// cancels the heartbeat. header carries the handshake's Host/Origin/
// User-Agent overrides; gorilla/websocket supplies Connection, Upgrade,
// Sec-WebSocket-Version, and Sec-WebSocket-Key itself.
func DialWS(url string, header http.Header, initFrame []byte, heartbeatInterval time.Duration) (Stream, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("feedstream: ws dial: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, initFrame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("feedstream: ws send init: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &wsStream{
		conn:         conn,
		recvCh:       make(chan recvResult),
		heartbeatErr: make(chan error, 1),
		cancel:       cancel,
	}
	go s.readLoop()
	go s.heartbeatLoop(ctx, heartbeatInterval)
	return s, nil
}

func (s *wsStream) readLoop() {
	defer close(s.recvCh)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.recvCh <- recvResult{err: fmt.Errorf("feedstream: ws read: %w", err)}
			return
		}
		if msgType != websocket.BinaryMessage {
			// Pings are handled by gorilla's default handler; any other
			// non-binary frame carries no payload worth recording.
			continue
		}
		s.recvCh <- recvResult{payload: feed.Payload{Time: feed.Now(), Data: data}}
	}
}

func (s *wsStream) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	frame, err := buildHeartbeatFrame()
	if err != nil {
		s.heartbeatErr <- err
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.heartbeatErr <- err
				return
			}
		}
	}
}

func (s *wsStream) Recv() (feed.Payload, error) {
	return drainRecv(s.heartbeatErr, s.recvCh)
}

func (s *wsStream) Close() error {
	s.cancel()
	return s.conn.Close()
}
