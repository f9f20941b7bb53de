package kvlog

import (
	"encoding/binary"
	"fmt"
	"hash"
	"os"
	"runtime"

	"lukechampine.com/blake3"

	"livekit-feed/internal/feederr"
)

// Writer appends rows to one keyed-log file. It is not safe for
// concurrent use; internal/logwriter serializes access through a
// single actor goroutine.
//
// A Writer must be closed explicitly. Go has no destructor to rely on,
// so a finalizer is registered as a last-resort backstop: if a Writer
// is garbage collected still open, the finalizer attempts to close it
// and panics if that fails, on the theory that a silently abandoned,
// un-finalized log is worse than a crash.
type Writer struct {
	f              *os.File
	config         Config
	hasher         hash.Hash
	closed         bool
	nonSyncedCount uint16
}

// AutoSyncInterval is the number of KV rows between automatic datasync
// calls.
const AutoSyncInterval = 500

// Create opens path for exclusive creation (it must not already exist)
// and writes the header.
func Create(path string, config Config) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	w := &Writer{f: f, config: config, hasher: blake3.New(32, nil)}
	if _, err := f.Write(encodeHeader(config)); err != nil {
		f.Close()
		return nil, err
	}
	runtime.SetFinalizer(w, (*Writer).finalize)
	return w, nil
}

// Config returns the schema this writer was opened with.
func (w *Writer) Config() Config {
	return w.config
}

func (w *Writer) closeGuard() error {
	if w.closed {
		return feederr.Closed
	}
	return nil
}

// WriteKV appends one scope/key/value row. Fixed-width fields (per
// Config.Sizes) must match exactly or InputLength is returned;
// variable-width fields carry their own length prefix.
func (w *Writer) WriteKV(kv KV) error {
	if err := w.closeGuard(); err != nil {
		return err
	}
	if err := checkFieldLength("scope", w.config.Sizes.Scope, len(kv.Scope)); err != nil {
		return err
	}
	if err := checkFieldLength("key", w.config.Sizes.Key, len(kv.Key)); err != nil {
		return err
	}
	if err := checkFieldLength("value", w.config.Sizes.Value, len(kv.Value)); err != nil {
		return err
	}

	buf := make([]byte, 0, 1+12+len(kv.Scope)+len(kv.Key)+len(kv.Value))
	buf = append(buf, byte(RowKV))
	buf = appendField(buf, w.config.Sizes.Scope, kv.Scope)
	buf = appendField(buf, w.config.Sizes.Key, kv.Key)
	buf = appendField(buf, w.config.Sizes.Value, kv.Value)
	if _, err := w.f.Write(buf); err != nil {
		return err
	}

	w.hasher.Write(kv.Scope)
	w.hasher.Write(kv.Key)
	w.hasher.Write(kv.Value)

	w.nonSyncedCount++
	if w.nonSyncedCount >= AutoSyncInterval {
		if err := w.DataSync(); err != nil {
			return err
		}
		w.nonSyncedCount = 0
	}
	return nil
}

func appendField(buf []byte, fixed uint32, field []byte) []byte {
	if fixed == 0 {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
	}
	return append(buf, field...)
}

// WriteHash appends a checkpoint row holding the BLAKE3 digest of every
// field written since the previous Hash row (or file start), then
// resets the hasher: each checkpoint covers exactly the KV rows between
// it and the one before.
func (w *Writer) WriteHash() ([HashSize]byte, error) {
	var digest [HashSize]byte
	if err := w.closeGuard(); err != nil {
		return digest, err
	}
	copy(digest[:], w.hasher.Sum(nil))
	if _, err := w.f.Write([]byte{byte(RowHash)}); err != nil {
		return digest, err
	}
	if _, err := w.f.Write(digest[:]); err != nil {
		return digest, err
	}
	w.hasher.Reset()
	return digest, nil
}

func (w *Writer) writeEnd() error {
	_, err := w.f.Write([]byte{byte(RowEnd)})
	return err
}

// DataSync flushes written rows to stable storage without necessarily
// syncing file metadata.
func (w *Writer) DataSync() error {
	return w.f.Sync()
}

// Close appends a final Hash row and an End row, marks the writer
// closed, and closes the underlying file. Close is idempotent-safe to
// call from a finalizer: calling it twice returns feederr.Closed on
// the second call rather than double-writing.
func (w *Writer) Close() error {
	if err := w.closeGuard(); err != nil {
		return err
	}
	if _, err := w.WriteHash(); err != nil {
		return err
	}
	if err := w.writeEnd(); err != nil {
		return err
	}
	w.closed = true
	if err := w.f.Sync(); err != nil {
		return err
	}
	return w.f.Close()
}

func (w *Writer) finalize() {
	if w.closed {
		return
	}
	if err := w.Close(); err != nil {
		panic(fmt.Sprintf("kvlog: writer finalized without explicit close and close failed: %v", err))
	}
}
