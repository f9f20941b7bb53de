// Package feederr collects the typed error variants used across the
// codec, storage, and stream layers. Each kind carries the fields a
// post-mortem needs instead of only a formatted string, while still
// composing with errors.As/errors.Is through %w wrapping.
package feederr

import (
	"encoding/hex"
	"fmt"
)

// UnknownHeadLength is returned when a frame header's declared header
// length is not 16.
type UnknownHeadLength struct {
	Got uint16
}

func (e *UnknownHeadLength) Error() string {
	return fmt.Sprintf("feed: unknown header length %d, expected 16", e.Got)
}

// IncorrectPayloadLength is returned when the header's declared total
// length disagrees with the number of trailing bytes actually present.
type IncorrectPayloadLength struct {
	Head   uint32
	Actual int
}

func (e *IncorrectPayloadLength) Error() string {
	return fmt.Sprintf("feed: header declares total length %d, payload has %d trailing bytes", e.Head, e.Actual)
}

// UnknownPayloadType is returned when (protoVer, msgType) is not in the
// dispatch matrix.
type UnknownPayloadType struct {
	ProtoVer uint16
	MsgType  uint32
}

func (e *UnknownPayloadType) Error() string {
	return fmt.Sprintf("feed: unknown payload type proto_ver=%d msg_type=%d", e.ProtoVer, e.MsgType)
}

// UnpackLeak is returned when recursively unpacking a Multi's
// concatenated frames leaves a remainder that isn't a complete frame.
type UnpackLeak struct {
	Offset int
	Total  int
}

func (e *UnpackLeak) Error() string {
	return fmt.Sprintf("feed: unpack leak at offset %d of %d bytes", e.Offset, e.Total)
}

// NotEncodable is returned by wire.Encode for any Packet variant other
// than HeartbeatRequest and InitRequest.
type NotEncodable struct {
	Kind string
}

func (e *NotEncodable) Error() string {
	return fmt.Sprintf("feed: packet kind %q is not encodable", e.Kind)
}

// InputLength is returned when a kvlog caller violates a fixed-size field,
// or when a feed.Key of a length other than 12 bytes is presented to the
// domain layer. It is a caller bug, not a transient condition.
type InputLength struct {
	Field    string
	Expected int
	Got      int
}

func (e *InputLength) Error() string {
	return fmt.Sprintf("feed: field %q must be %d bytes, got %d", e.Field, e.Expected, e.Got)
}

// Config is returned when a kvlog.Reader's expected (ident, sizes) schema
// does not match the file being opened.
type Config struct {
	Reason string
}

func (e *Config) Error() string {
	return fmt.Sprintf("feed: log config mismatch: %s", e.Reason)
}

// Hash is returned when a reader's recomputed checkpoint digest does not
// match the digest stored in a Hash row. The file is corrupt or was
// concurrently modified.
type Hash struct {
	Existing   [32]byte
	Calculated [32]byte
}

func (e *Hash) Error() string {
	return fmt.Sprintf("feed: hash mismatch: file has %x, calculated %x", e.Existing, e.Calculated)
}

// Closed is returned by any writer/reader operation performed after
// Close has already run.
var Closed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "feed: operation on a closed log" }

// RateLimitSource names which upstream signal indicated rate limiting,
// per the Open Question in spec.md §9: different revisions of the
// original disagreed on whether this is an HTTP status, a positive API
// code, or a negative one. All three are preserved and normalized here.
type RateLimitSource int

const (
	RateLimitHTTP412 RateLimitSource = iota
	RateLimitAPICode412
	RateLimitAPICodeNeg412
)

func (s RateLimitSource) String() string {
	switch s {
	case RateLimitHTTP412:
		return "http-412"
	case RateLimitAPICode412:
		return "api-code-412"
	case RateLimitAPICodeNeg412:
		return "api-code--412"
	default:
		return "unknown"
	}
}

// RateLimited is returned by the discovery client when the upstream
// signals rate limiting through any of the three observed shapes.
type RateLimited struct {
	Source RateLimitSource
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("feed: rate limited (%s)", e.Source)
}

// APIFailure wraps any other non-zero discovery API response code.
type APIFailure struct {
	Code    int32
	Message string
}

func (e *APIFailure) Error() string {
	return fmt.Sprintf("feed: discovery api failure code=%d message=%q", e.Code, e.Message)
}

// PersistenceFailure is the diagnostic payload a room driver panics with
// when the writer actor cannot durably store a payload. It intentionally
// carries enough state (room, key, hex value) to diagnose a corrupt log
// after the fact.
type PersistenceFailure struct {
	Room  int32
	Key   []byte
	Value []byte
	Err   error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf(
		"feed: fatal persistence failure room=%d key=%x value=%s: %v",
		e.Room, e.Key, hex.EncodeToString(e.Value), e.Err,
	)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }
