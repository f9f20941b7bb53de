// Package logwriter serializes concurrent room drivers onto a single
// kvlog.Writer through one actor goroutine, the Go equivalent of the
// channel-actor pattern the original recorder uses to own the one file
// handle a process may hold open for writing at a time.
package logwriter

import (
	"fmt"

	"livekit-feed/internal/feed"
	"livekit-feed/internal/feederr"
	"livekit-feed/internal/kvlog"
)

type requestKind int

const (
	reqKV requestKind = iota
	reqHash
	reqSync
	reqClose
)

type request struct {
	kind  requestKind
	kv    kvlog.KV
	reply chan response
}

type response struct {
	hash [kvlog.HashSize]byte
	err  error
}

// Writer owns one kvlog.Writer behind an actor goroutine. All room
// handles opened from it share the same file and the same FIFO request
// queue: writes from different rooms never interleave mid-row.
type Writer struct {
	reqs chan request
	done chan struct{}
}

// Open creates a new log segment at path and starts its actor.
func Open(path string, config kvlog.Config) (*Writer, error) {
	kv, err := kvlog.Create(path, config)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		reqs: make(chan request),
		done: make(chan struct{}),
	}
	go w.run(kv)
	return w, nil
}

// run is the actor loop: one request at a time, in arrival order.
// Receiving a close request drains nothing further — it is itself
// subject to FIFO ordering, so every request queued ahead of it has
// already been served by the time it runs. That gives drain-on-close
// semantics without a separate signal.
func (w *Writer) run(kv *kvlog.Writer) {
	defer close(w.done)
	for req := range w.reqs {
		switch req.kind {
		case reqKV:
			err := kv.WriteKV(req.kv)
			req.reply <- response{err: err}

		case reqHash:
			hash, err := kv.WriteHash()
			req.reply <- response{hash: hash, err: err}

		case reqSync:
			err := kv.DataSync()
			req.reply <- response{err: err}

		case reqClose:
			err := kv.Close()
			req.reply <- response{err: err}
			return
		}
	}
}

// request sends req and waits for its reply, or returns feederr.Closed
// if the actor has already exited (observed via w.done) either before
// the send or while waiting for the reply.
func (w *Writer) request(req request) response {
	select {
	case w.reqs <- req:
	case <-w.done:
		return response{err: feederr.Closed}
	}
	select {
	case resp := <-req.reply:
		return resp
	case <-w.done:
		return response{err: feederr.Closed}
	}
}

// Hash requests an out-of-band checkpoint row (outside the per-room
// insert path), useful for a periodic ticker independent of row volume.
func (w *Writer) Hash() ([kvlog.HashSize]byte, error) {
	resp := w.request(request{kind: reqHash, reply: make(chan response, 1)})
	return resp.hash, resp.err
}

// Sync forces a datasync outside the writer's own auto-sync interval.
func (w *Writer) Sync() error {
	resp := w.request(request{kind: reqSync, reply: make(chan response, 1)})
	return resp.err
}

// Close requests a final Hash + End row and waits for the actor to
// finish; requests already queued ahead of it are served first. Once
// Close returns, every Room handle derived from w observes
// feederr.Closed on further use.
func (w *Writer) Close() error {
	resp := w.request(request{kind: reqClose, reply: make(chan response, 1)})
	return resp.err
}

// Room returns a handle scoped to one room id, sharing this writer's
// actor and file.
func (w *Writer) Room(roomID feed.RoomID) *RoomHandle {
	scope := feed.NewScope(roomID)
	return &RoomHandle{roomID: roomID, scope: scope, w: w}
}

// RoomHandle is a per-room view onto a shared Writer.
type RoomHandle struct {
	roomID feed.RoomID
	scope  feed.Scope
	w      *Writer
}

// RoomID returns the handle's room id.
func (h *RoomHandle) RoomID() feed.RoomID {
	return h.roomID
}

// InsertPayload stores one wire payload under this room's scope. The
// returned error, if any, wraps the actor's kvlog error (or
// feederr.Closed) with the room id; callers on
// the hot path (internal/roomclient) are expected to treat any error
// here as fatal and wrap it into feederr.PersistenceFailure before
// panicking, per the durability contract: a write that cannot be
// placed in the log must never be silently dropped.
func (h *RoomHandle) InsertPayload(p feed.Payload) error {
	key := p.Key()
	kv := kvlog.KV{
		Scope: append([]byte(nil), h.scope[:]...),
		Key:   append([]byte(nil), key[:]...),
		Value: p.Data,
	}
	resp := h.w.request(request{kind: reqKV, kv: kv, reply: make(chan response, 1)})
	if resp.err != nil {
		return fmt.Errorf("logwriter: insert payload room=%d: %w", h.roomID, resp.err)
	}
	return nil
}
