package kvlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"lukechampine.com/blake3"

	"livekit-feed/internal/feederr"
)

// Row is one decoded row: exactly one of KV, Hash, or End is meaningful,
// selected by Type.
type Row struct {
	Type  RowType
	KV    KV
	Hash  [HashSize]byte
}

// Reader sequentially reads rows from a keyed-log file, verifying every
// Hash row against a running digest as it goes.
type Reader struct {
	r      *bufio.Reader
	config Config
	hasher hash.Hash
	done   bool
}

// Open reads and validates the header, then returns a Reader positioned
// at the first row. want, if non-zero-valued, is checked against the
// file's recorded Config; a mismatch is feederr.Config.
func Open(r io.Reader, want Config) (*Reader, error) {
	br := bufio.NewReader(r)

	var magicBuf [4]byte
	if _, err := io.ReadFull(br, magicBuf[:]); err != nil {
		return nil, fmt.Errorf("kvlog: read magic: %w", err)
	}
	magic := binary.BigEndian.Uint32(magicBuf[:])
	if magic != Magic {
		return nil, &feederr.Config{Reason: fmt.Sprintf("bad magic %#x", magic)}
	}

	var identLenBuf [4]byte
	if _, err := io.ReadFull(br, identLenBuf[:]); err != nil {
		return nil, fmt.Errorf("kvlog: read ident length: %w", err)
	}
	identLen := binary.BigEndian.Uint32(identLenBuf[:])
	identBuf := make([]byte, identLen)
	if _, err := io.ReadFull(br, identBuf); err != nil {
		return nil, fmt.Errorf("kvlog: read ident: %w", err)
	}

	flag, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("kvlog: read sizes flag: %w", err)
	}
	sizes, err := readSizes(br)
	if err != nil {
		return nil, err
	}
	_ = flag // the flag is redundant with Sizes != 0; kept for wire fidelity only

	config := Config{Ident: string(identBuf), Sizes: sizes}
	if want != (Config{}) && !config.Equal(want) {
		return nil, &feederr.Config{Reason: fmt.Sprintf("file schema %+v does not match expected %+v", config, want)}
	}

	return &Reader{r: br, config: config, hasher: blake3.New(32, nil)}, nil
}

func readSizes(r io.Reader) (Sizes, error) {
	var buf [12]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Sizes{}, fmt.Errorf("kvlog: read sizes: %w", err)
	}
	return Sizes{
		Scope: binary.BigEndian.Uint32(buf[0:4]),
		Key:   binary.BigEndian.Uint32(buf[4:8]),
		Value: binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// Config returns the schema recorded in the file's header.
func (r *Reader) Config() Config {
	return r.config
}

// Next reads and returns the next row. It returns io.EOF once an End
// row has been consumed. A Hash row whose stored digest does not match
// the digest computed from the KV rows read since the previous Hash row
// (or file start) is returned as feederr.Hash rather than silently
// accepted; the running digest then resets for the next checkpoint.
func (r *Reader) Next() (Row, error) {
	if r.done {
		return Row{}, io.EOF
	}
	tag, err := r.r.ReadByte()
	if err != nil {
		return Row{}, err
	}
	switch RowType(tag) {
	case RowKV:
		kv, err := r.readKV()
		if err != nil {
			return Row{}, err
		}
		return Row{Type: RowKV, KV: kv}, nil

	case RowHash:
		var stored [HashSize]byte
		if _, err := io.ReadFull(r.r, stored[:]); err != nil {
			return Row{}, fmt.Errorf("kvlog: read hash row: %w", err)
		}
		var calculated [HashSize]byte
		copy(calculated[:], r.hasher.Sum(nil))
		if stored != calculated {
			return Row{}, &feederr.Hash{Existing: stored, Calculated: calculated}
		}
		r.hasher.Reset()
		return Row{Type: RowHash, Hash: stored}, nil

	case RowEnd:
		r.done = true
		return Row{Type: RowEnd}, nil

	default:
		return Row{}, fmt.Errorf("kvlog: unknown row tag %d", tag)
	}
}

func (r *Reader) readKV() (KV, error) {
	scope, err := r.readField(r.config.Sizes.Scope)
	if err != nil {
		return KV{}, fmt.Errorf("kvlog: read scope: %w", err)
	}
	key, err := r.readField(r.config.Sizes.Key)
	if err != nil {
		return KV{}, fmt.Errorf("kvlog: read key: %w", err)
	}
	value, err := r.readField(r.config.Sizes.Value)
	if err != nil {
		return KV{}, fmt.Errorf("kvlog: read value: %w", err)
	}
	r.hasher.Write(scope)
	r.hasher.Write(key)
	r.hasher.Write(value)
	return KV{Scope: scope, Key: key, Value: value}, nil
}

func (r *Reader) readField(fixed uint32) ([]byte, error) {
	length := fixed
	if length == 0 {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r.r, lenBuf[:]); err != nil {
			return nil, err
		}
		length = binary.BigEndian.Uint32(lenBuf[:])
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// All reads every row until End (inclusive boundary excluded), returning
// the decoded KV rows in file order. It is a convenience for the dump
// tool and tests; streaming consumers should call Next directly.
func All(r *Reader) ([]KV, error) {
	var kvs []KV
	for {
		row, err := r.Next()
		if err == io.EOF {
			return kvs, nil
		}
		if err != nil {
			return kvs, err
		}
		if row.Type == RowKV {
			kvs = append(kvs, row.KV)
		}
	}
}
