// Package dump implements the offline ND-JSON dump tool's core: reading
// kvlog segments, filtering by room/time/command, decoding each
// surviving value through internal/wire, and writing one JSON record
// per flattened leaf packet.
package dump

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"livekit-feed/internal/feed"
	"livekit-feed/internal/kvlog"
	"livekit-feed/internal/wire"
)

// Filter narrows which rows produce output records. A zero-valued field
// imposes no constraint.
type Filter struct {
	RoomIDs []feed.RoomID
	Since   feed.Timestamp
	Until   feed.Timestamp
	Command string
}

func (f Filter) allowsRoom(room feed.RoomID) bool {
	if len(f.RoomIDs) == 0 {
		return true
	}
	for _, r := range f.RoomIDs {
		if r == room {
			return true
		}
	}
	return false
}

func (f Filter) allowsTime(t feed.Timestamp) bool {
	if f.Since != 0 && t < f.Since {
		return false
	}
	if f.Until != 0 && t > f.Until {
		return false
	}
	return true
}

// Record is one output line: the room the frame arrived on, its
// arrival time, and its decoded representation.
type Record struct {
	RoomID feed.RoomID `json:"roomid"`
	Time   int64       `json:"time"`
	Inner  any         `json:"inner"`
}

// Run reads every row from r, applies filter, decodes surviving values,
// and writes one ND-JSON record per flattened leaf packet to w. A
// decode failure (UnpackLeak, bad UTF-8, unknown payload type, ...)
// fails only that row's record; the scan continues. It returns the
// number of records written and the number of rows that failed to
// decode.
func Run(w io.Writer, r *kvlog.Reader, filter Filter) (written, failed int, err error) {
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	enc := json.NewEncoder(bw)
	for {
		row, readErr := r.Next()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, failed, fmt.Errorf("dump: read row: %w", readErr)
		}
		if row.Type != kvlog.RowKV {
			continue
		}

		n, decodeErr := emitRow(enc, row.KV, filter)
		if decodeErr != nil {
			failed++
			continue
		}
		written += n
	}
	return written, failed, bw.Flush()
}

func emitRow(enc *json.Encoder, kv kvlog.KV, filter Filter) (int, error) {
	if len(kv.Scope) != feed.ScopeLength || len(kv.Key) != feed.KeyLength {
		return 0, fmt.Errorf("dump: row has non-standard scope/key sizes")
	}
	var scope feed.Scope
	copy(scope[:], kv.Scope)
	var key feed.Key
	copy(key[:], kv.Key)

	room := scope.RoomID()
	arrived := key.Time()
	if !filter.allowsRoom(room) || !filter.allowsTime(arrived) {
		return 0, nil
	}

	packet, err := wire.Decode(kv.Value)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, leaf := range wire.Flatten(packet) {
		inner, cmd := describe(leaf)
		if filter.Command != "" && cmd != filter.Command {
			continue
		}
		record := Record{RoomID: room, Time: int64(arrived), Inner: inner}
		if err := enc.Encode(record); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// describe converts a flattened leaf Packet to a JSON-friendly value
// and, for Json packets, extracts the upstream "cmd" field used by
// Filter.Command.
func describe(p wire.Packet) (any, string) {
	switch v := p.(type) {
	case wire.Json:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(v.Text), &parsed); err != nil {
			return map[string]any{"kind": "json", "raw": v.Text}, ""
		}
		cmd, _ := parsed["cmd"].(string)
		return map[string]any{"kind": "json", "body": parsed}, cmd
	case wire.InitRequest:
		return map[string]any{"kind": "init_request", "text": v.Text}, ""
	case wire.InitResponse:
		return map[string]any{"kind": "init_response", "text": v.Text}, ""
	case wire.HeartbeatRequest:
		return map[string]any{"kind": "heartbeat_request"}, ""
	case wire.HeartbeatResponse:
		return map[string]any{"kind": "heartbeat_response", "value": v.Value}, ""
	default:
		return map[string]any{"kind": "unknown"}, ""
	}
}
