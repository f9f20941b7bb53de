// Package feed holds the shared data types and timing constants used
// across the codec, storage, and stream layers: the pieces every other
// package imports but none of them owns.
package feed

import (
	"encoding/binary"
	"hash/crc32"
	"time"
)

const (
	// DefaultHeartbeatInterval is FEED_HEARTBEAT_RATE_SEC from the wire spec.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultReconnectBackoff is the delay between Cooldown and Discover.
	DefaultReconnectBackoff = 5 * time.Second
	// DefaultInitBackoff is the delay after a failed Discover or Connect.
	DefaultInitBackoff = 5 * time.Second
	// DefaultStartupStagger is FEED_INIT_INTERVAL_MS, the gap between
	// successive room driver launches.
	DefaultStartupStagger = 100 * time.Millisecond
	// TCPReadBufferSize is the scratch buffer size for the plain-TCP
	// transport's length-prefixed reads.
	TCPReadBufferSize = 8 * 1024

	// KeyLength is the fixed length of a log Key: 8-byte time plus
	// 4-byte crc32. Spec resolves the "8-byte key, no hash" ambiguity by
	// rejecting any other length.
	KeyLength = 12
	// ScopeLength is the fixed length of a log Scope: a big-endian room id.
	ScopeLength = 4
)

// RoomID identifies one live room. Negative values mark a disabled room at
// the configuration layer; RoomID itself carries no such meaning.
type RoomID int32

// Timestamp is a unix-millisecond instant, matching the wire format's
// 8-byte big-endian time field.
type Timestamp uint64

// Now returns the current instant as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMilli())
}

// Time converts the Timestamp back to a time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

// Key is the 12-byte log key: time (big-endian u64) then crc32(payload)
// (big-endian u32).
type Key [KeyLength]byte

// NewKey builds the key for a payload captured at t.
func NewKey(t Timestamp, payload []byte) Key {
	var k Key
	binary.BigEndian.PutUint64(k[0:8], uint64(t))
	binary.BigEndian.PutUint32(k[8:12], crc32.ChecksumIEEE(payload))
	return k
}

// Time extracts the timestamp half of the key.
func (k Key) Time() Timestamp {
	return Timestamp(binary.BigEndian.Uint64(k[0:8]))
}

// Checksum extracts the crc32 half of the key.
func (k Key) Checksum() uint32 {
	return binary.BigEndian.Uint32(k[8:12])
}

// Verify recomputes crc32(payload) and compares it against the key's
// stored checksum.
func (k Key) Verify(payload []byte) bool {
	return k.Checksum() == crc32.ChecksumIEEE(payload)
}

// Scope is the 4-byte big-endian room identifier carried by every kvlog
// record for this domain.
type Scope [ScopeLength]byte

// NewScope encodes a room id as a big-endian Scope.
func NewScope(room RoomID) Scope {
	var s Scope
	binary.BigEndian.PutUint32(s[:], uint32(room))
	return s
}

// RoomID decodes the Scope back into a room identifier.
func (s Scope) RoomID() RoomID {
	return RoomID(binary.BigEndian.Uint32(s[:]))
}

// Payload is a frame as it arrived on the wire, stamped with the instant
// it was received. Decoding to a Packet is deliberately deferred: the
// recorder stores bytes, interactive consumers decode on demand.
type Payload struct {
	Time Timestamp
	Data []byte
}

// Key derives this payload's log key from its arrival time and bytes.
func (p Payload) Key() Key {
	return NewKey(p.Time, p.Data)
}
