// Package archiver compresses closed kvlog segments to cold storage.
// Fleet-scale recording accumulates one segment per writer restart;
// this package periodically zstd-compresses segments the writer actor
// is done with, verifies the compressed copy reads back byte-identical
// through kvlog.Reader, then removes the uncompressed original. It
// never touches the segment currently open for writing.
package archiver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"livekit-feed/internal/kvlog"
	"livekit-feed/internal/logging"
)

const segmentSuffix = ".kvlog"
const archiveSuffix = ".kvlog.zst"

// ActiveSegmentFunc reports the path of the segment currently open for
// writing, if any, so the archiver can skip it. An empty return value
// means no segment is excluded.
type ActiveSegmentFunc func() string

// Options configures an Archiver.
type Options struct {
	StorageDir    string
	GracePeriod   time.Duration
	ActiveSegment ActiveSegmentFunc
	Logger        *logging.Logger
}

// Archiver periodically compresses closed kvlog segments under
// StorageDir.
type Archiver struct {
	dir           string
	gracePeriod   time.Duration
	activeSegment ActiveSegmentFunc
	logger        *logging.Logger
}

// New constructs an Archiver. A zero GracePeriod means segments become
// eligible the moment they are no longer the active one.
func New(opts Options) *Archiver {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	active := opts.ActiveSegment
	if active == nil {
		active = func() string { return "" }
	}
	return &Archiver{
		dir:           opts.StorageDir,
		gracePeriod:   opts.GracePeriod,
		activeSegment: active,
		logger:        logger,
	}
}

// Run polls the storage directory every interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil {
				a.logger.Error("archive sweep failed", logging.Error(err))
			}
		}
	}
}

// Trigger runs one sweep synchronously and summarizes the result,
// satisfying internal/httpapi.Archiver for the manual trigger endpoint.
func (a *Archiver) Trigger(ctx context.Context) (string, error) {
	compressed, err := a.Sweep(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("compressed %d segment(s)", compressed), nil
}

// Sweep compresses every eligible closed segment once and returns how
// many it compressed.
func (a *Archiver) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, fmt.Errorf("archiver: read storage dir: %w", err)
	}

	active := a.activeSegment()
	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), segmentSuffix) {
			continue
		}
		path := filepath.Join(a.dir, entry.Name())
		if path == active {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if a.gracePeriod > 0 && time.Since(info.ModTime()) < a.gracePeriod {
			continue
		}
		candidates = append(candidates, path)
	}
	sort.Strings(candidates)

	compressed := 0
	for _, path := range candidates {
		if ctx.Err() != nil {
			return compressed, ctx.Err()
		}
		if err := a.compressOne(path); err != nil {
			a.logger.Error("compress segment failed", logging.String("path", path), logging.Error(err))
			continue
		}
		compressed++
	}
	return compressed, nil
}

func (a *Archiver) compressOne(path string) error {
	archivePath := path + ".zst"

	original, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("archiver: read %s: %w", path, err)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("archiver: create %s: %w", archivePath, err)
	}
	enc, err := zstd.NewWriter(out)
	if err != nil {
		out.Close()
		os.Remove(archivePath)
		return fmt.Errorf("archiver: new zstd writer: %w", err)
	}
	if _, err := enc.Write(original); err != nil {
		enc.Close()
		out.Close()
		os.Remove(archivePath)
		return fmt.Errorf("archiver: write compressed %s: %w", archivePath, err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		os.Remove(archivePath)
		return fmt.Errorf("archiver: close zstd writer: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(archivePath)
		return fmt.Errorf("archiver: close %s: %w", archivePath, err)
	}

	if err := verifyRoundTrip(archivePath, original); err != nil {
		os.Remove(archivePath)
		return fmt.Errorf("archiver: verify %s: %w", archivePath, err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("archiver: remove original %s: %w", path, err)
	}
	a.logger.Info("segment archived", logging.String("path", path), logging.String("archive", archivePath))
	return nil
}

// verifyRoundTrip decompresses archivePath, confirms its bytes equal
// original, and confirms the result opens as a kvlog file. Only the
// header is parsed; the rows are covered by the byte comparison.
func verifyRoundTrip(archivePath string, original []byte) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	decompressed, err := io.ReadAll(dec)
	if err != nil {
		return err
	}
	if !bytes.Equal(decompressed, original) {
		return fmt.Errorf("decompressed content does not match original (%d vs %d bytes)", len(decompressed), len(original))
	}

	if _, err := kvlog.Open(bytes.NewReader(decompressed), kvlog.Config{}); err != nil {
		return fmt.Errorf("decompressed content does not parse as a kvlog header: %w", err)
	}
	return nil
}
