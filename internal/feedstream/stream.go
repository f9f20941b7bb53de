// Package feedstream implements the two wire transports a room driver
// can use to receive the push channel: WebSocket-over-TLS and plain
// TCP. Both expose the same Stream interface so internal/roomclient
// does not need to know which one it is driving.
package feedstream

import (
	"fmt"
	"io"

	"livekit-feed/internal/feed"
	"livekit-feed/internal/wire"
)

// Stream yields every payload received on a connection, in arrival
// order, stamped with the instant it was read. Once the connection ends
// Recv returns an error: first the read loop's wrapped read error (or
// the heartbeat task's error), then io.EOF. The cases are not
// distinguished by the caller, all mean "reconnect."
type Stream interface {
	Recv() (feed.Payload, error)
	Close() error
}

type recvResult struct {
	payload feed.Payload
	err     error
}

func buildHeartbeatFrame() ([]byte, error) {
	return wire.Encode(wire.HeartbeatRequest{})
}

// drainRecv selects the next available result, giving heartbeatErr
// strict priority over recvCh even when both are ready — mirroring the
// upstream poll order where the heartbeat task's failure is checked
// before the socket's read result on every poll.
func drainRecv(heartbeatErr <-chan error, recvCh <-chan recvResult) (feed.Payload, error) {
	select {
	case err := <-heartbeatErr:
		return feed.Payload{}, fmt.Errorf("feedstream: heartbeat task: %w", err)
	default:
	}
	select {
	case err := <-heartbeatErr:
		return feed.Payload{}, fmt.Errorf("feedstream: heartbeat task: %w", err)
	case res, ok := <-recvCh:
		if !ok {
			return feed.Payload{}, io.EOF
		}
		return res.payload, res.err
	}
}
