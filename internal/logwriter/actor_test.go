package logwriter

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"livekit-feed/internal/feed"
	"livekit-feed/internal/feederr"
	"livekit-feed/internal/kvlog"
)

func testConfig() kvlog.Config {
	return kvlog.Config{Ident: "livekit-feed-raw", Sizes: kvlog.Sizes{Scope: 4, Key: 12, Value: 0}}
}

func TestInsertPayloadThenClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment.kvlog")

	w, err := Open(path, testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	room := w.Room(feed.RoomID(42))

	for i := 0; i < 3; i++ {
		p := feed.Payload{Time: feed.Timestamp(1000 + i), Data: []byte("x")}
		if err := room.InsertPayload(p); err != nil {
			t.Fatalf("InsertPayload: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("os.Open: %v", err)
	}
	defer f.Close()
	r, err := kvlog.Open(f, testConfig())
	if err != nil {
		t.Fatalf("kvlog.Open: %v", err)
	}
	kvs, err := kvlog.All(r)
	if err != nil && err != io.EOF {
		t.Fatalf("All: %v", err)
	}
	if len(kvs) != 3 {
		t.Fatalf("got %d rows, want 3", len(kvs))
	}
}

func TestInsertAfterCloseReturnsClosed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment.kvlog")

	w, err := Open(path, testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	room := w.Room(feed.RoomID(1))
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err = room.InsertPayload(feed.Payload{Time: feed.Now(), Data: []byte("late")})
	if !errors.Is(err, feederr.Closed) {
		t.Fatalf("got %v, want feederr.Closed", err)
	}
}

func TestConcurrentRoomsSerializeWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment.kvlog")

	w, err := Open(path, testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	const rooms = 8
	const perRoom = 50
	var wg sync.WaitGroup
	for r := 0; r < rooms; r++ {
		wg.Add(1)
		go func(roomID int32) {
			defer wg.Done()
			handle := w.Room(feed.RoomID(roomID))
			for i := 0; i < perRoom; i++ {
				p := feed.Payload{Time: feed.Timestamp(i), Data: []byte("payload")}
				if err := handle.InsertPayload(p); err != nil {
					t.Errorf("room %d InsertPayload: %v", roomID, err)
				}
			}
		}(int32(r))
	}
	wg.Wait()

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("os.Open: %v", err)
	}
	defer f.Close()
	r, err := kvlog.Open(f, testConfig())
	if err != nil {
		t.Fatalf("kvlog.Open: %v", err)
	}
	kvs, err := kvlog.All(r)
	if err != nil && err != io.EOF {
		t.Fatalf("All: %v", err)
	}
	if len(kvs) != rooms*perRoom {
		t.Fatalf("got %d rows, want %d", len(kvs), rooms*perRoom)
	}
}
