package feedstream

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"livekit-feed/internal/feed"
)

type tcpStream struct {
	conn         net.Conn
	r            *bufio.Reader
	recvCh       chan recvResult
	heartbeatErr chan error
	cancel       context.CancelFunc
}

// DialTCP opens a plain TCP connection to addr, sends initFrame as the
// first bytes, and starts the periodic heartbeat task. The receive loop
// reframes the byte stream to message boundaries itself: it reads the
// 4-byte big-endian length prefix (the frame's own total_length field),
// then exactly that many bytes minus the 4 already read, assembling one
// complete frame before emitting it as a Payload.
func DialTCP(addr string, initFrame []byte, heartbeatInterval time.Duration) (Stream, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("feedstream: tcp dial: %w", err)
	}
	if _, err := conn.Write(initFrame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("feedstream: tcp send init: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &tcpStream{
		conn:         conn,
		r:            bufio.NewReaderSize(conn, feed.TCPReadBufferSize),
		recvCh:       make(chan recvResult),
		heartbeatErr: make(chan error, 1),
		cancel:       cancel,
	}
	go s.readLoop()
	go s.heartbeatLoop(ctx, heartbeatInterval)
	return s, nil
}

func (s *tcpStream) readLoop() {
	defer close(s.recvCh)
	var lenPrefix [4]byte
	for {
		if _, err := io.ReadFull(s.r, lenPrefix[:]); err != nil {
			s.recvCh <- recvResult{err: fmt.Errorf("feedstream: tcp read length prefix: %w", err)}
			return
		}
		total := binary.BigEndian.Uint32(lenPrefix[:])
		if total < 4 {
			s.recvCh <- recvResult{err: fmt.Errorf("feedstream: tcp frame length %d shorter than its own length prefix", total)}
			return
		}
		data := make([]byte, total)
		copy(data[:4], lenPrefix[:])
		if _, err := io.ReadFull(s.r, data[4:]); err != nil {
			s.recvCh <- recvResult{err: fmt.Errorf("feedstream: tcp read frame body: %w", err)}
			return
		}
		s.recvCh <- recvResult{payload: feed.Payload{Time: feed.Now(), Data: data}}
	}
}

func (s *tcpStream) heartbeatLoop(ctx context.Context, interval time.Duration) {
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
			if _, err := s.conn.Write(frame); err != nil {
				s.heartbeatErr <- err
				return
			}
		}
	}
}

func (s *tcpStream) Recv() (feed.Payload, error) {
	return drainRecv(s.heartbeatErr, s.recvCh)
}

func (s *tcpStream) Close() error {
	s.cancel()
	return s.conn.Close()
}
