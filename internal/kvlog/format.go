// Package kvlog implements the append-only keyed-log file format: a
// magic-prefixed header naming the schema (ident, field sizes) followed
// by a stream of KV/Hash/End rows. One file belongs to exactly one
// writer for its whole life; internal/logwriter is the only writer.
package kvlog

import (
	"encoding/binary"
	"fmt"

	"livekit-feed/internal/feederr"
)

// Magic is the fixed four-byte prefix of every keyed-log file.
const Magic uint32 = 0x42650000

// HashSize is the width of a checkpoint digest: a BLAKE3-256 output.
const HashSize = 32

// RowType tags each row after the header.
type RowType uint8

const (
	RowKV   RowType = 0
	RowHash RowType = 1
	RowEnd  RowType = 2
)

func (t RowType) String() string {
	switch t {
	case RowKV:
		return "kv"
	case RowHash:
		return "hash"
	case RowEnd:
		return "end"
	default:
		return fmt.Sprintf("row(%d)", uint8(t))
	}
}

// sizeFlag bit positions, set when the corresponding field has a fixed
// width baked into the header rather than a per-row length prefix.
const (
	flagScopeFixed = 1 << 0
	flagKeyFixed   = 1 << 1
	flagValueFixed = 1 << 2
)

// Sizes declares the fixed width of each KV field, or 0 for
// variable-length (the row then carries its own u32 length prefix).
type Sizes struct {
	Scope uint32
	Key   uint32
	Value uint32
}

func (s Sizes) flag() uint8 {
	var f uint8
	if s.Scope != 0 {
		f |= flagScopeFixed
	}
	if s.Key != 0 {
		f |= flagKeyFixed
	}
	if s.Value != 0 {
		f |= flagValueFixed
	}
	return f
}

// Config is the schema recorded at the start of a log file: an
// identifier string naming the record family, and the fixed/variable
// widths of its three KV fields.
type Config struct {
	Ident string
	Sizes Sizes
}

// Equal reports whether two configs describe the same schema.
func (c Config) Equal(other Config) bool {
	return c.Ident == other.Ident && c.Sizes == other.Sizes
}

// KV is one scope/key/value row.
type KV struct {
	Scope []byte
	Key   []byte
	Value []byte
}

func encodeHeader(c Config) []byte {
	identBytes := []byte(c.Ident)
	buf := make([]byte, 0, 4+4+len(identBytes)+1+4+4+4)
	buf = binary.BigEndian.AppendUint32(buf, Magic)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(identBytes)))
	buf = append(buf, identBytes...)
	buf = append(buf, c.Sizes.flag())
	buf = binary.BigEndian.AppendUint32(buf, c.Sizes.Scope)
	buf = binary.BigEndian.AppendUint32(buf, c.Sizes.Key)
	buf = binary.BigEndian.AppendUint32(buf, c.Sizes.Value)
	return buf
}

func checkFieldLength(field string, fixed uint32, got int) error {
	if fixed != 0 && int(fixed) != got {
		return &feederr.InputLength{Field: field, Expected: int(fixed), Got: got}
	}
	return nil
}
