// Package compression implements the Compression Adapter (C6): it decides
// what compression a bucket's remaining bytes must be written with and
// performs the gzip transform itself.
package compression

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"

	"github.com/metal-stack/kafka-backup-streamer/internal/bucket"
)

// Config is the run's static compression configuration.
type Config struct {
	Kind  bucket.CompressionKind
	Level int // 0 means gzip.DefaultCompression
}

func (c Config) level() int {
	if c.Level == 0 {
		return gzip.DefaultCompression
	}
	return c.Level
}

// ResolveForResume returns the compression the remainder of a bucket's
// object must be written with. A partially written object's existing
// bytes can never be retroactively recompressed, so an in-progress
// object's compression always wins over the run's current configuration;
// only a fresh object (existing == nil) uses the configured value. This is
// the resume compression policy table of §4.6, collapsed to what it
// actually reduces to.
func ResolveForResume(configured bucket.CompressionKind, existing *bucket.CompressionKind) bucket.CompressionKind {
	if existing != nil {
		return *existing
	}
	return configured
}

// Writer gzips chunks one at a time, each as a self-contained gzip member.
// Concatenating independently-gzipped members is a property of the gzip
// format itself (RFC 1952 §2.2), which is what makes it safe to resume a
// gzip object at an arbitrary part boundary and keep writing members at a
// different level than the ones already uploaded.
type Writer struct {
	cfg Config
}

func NewWriter(cfg Config) *Writer {
	return &Writer{cfg: cfg}
}

// Transform returns chunk unchanged when compression is disabled, or a
// complete gzip member wrapping chunk otherwise.
func (w *Writer) Transform(chunk []byte) ([]byte, error) {
	if w.cfg.Kind != bucket.CompressionGzip {
		return chunk, nil
	}
	return GzipBytes(chunk, w.cfg.level())
}

// GzipBytes wraps data in a single gzip member at level. level 0 maps to
// gzip.DefaultCompression so callers don't need to know the magic zero
// value gzip.NewWriterLevel itself requires.
func GzipBytes(data []byte, level int) ([]byte, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("construct gzip writer: %w", err)
	}
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("write gzip member: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("close gzip member: %w", err)
	}
	return buf.Bytes(), nil
}
