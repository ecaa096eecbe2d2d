// Package sink implements the Storage Sink (C7): it drives one bucket's
// framed chunks into a resumable multipart upload, buffering into
// part-sized writes and committing cursors only once their bytes are
// acknowledged by storage.
package sink

import (
	"context"

	retry "github.com/avast/retry-go/v4"

	"github.com/metal-stack/kafka-backup-streamer/internal/compression"
	"github.com/metal-stack/kafka-backup-streamer/internal/errs"
	"github.com/metal-stack/kafka-backup-streamer/internal/framing"
	"github.com/metal-stack/kafka-backup-streamer/internal/objectstore"
	"github.com/metal-stack/kafka-backup-streamer/internal/record"
	"github.com/metal-stack/kafka-backup-streamer/internal/resume"
	"github.com/metal-stack/kafka-backup-streamer/pkg/constants"
)

// Sink is opened once per bucket and driven with that bucket's framed
// chunks in order. It is not safe for concurrent use: the pipeline never
// needs it to be, since chunking parallelism is always 1.
type Sink struct {
	pw      objectstore.PartWriter
	writer  *compression.Writer
	key     string
	resumed bool

	buf     []byte
	pending []record.CursorContext
	partNo  int
}

// Open resolves decision into a fresh or resumed PartWriter for key.
func Open(ctx context.Context, adapter objectstore.Adapter, key string, decision resume.Decision) (*Sink, error) {
	metadata := objectstore.BackupObjectMetadata{Compression: decision.EffectiveCompression}

	pw, err := adapter.MultipartUploadSink(ctx, key, decision.State, metadata)
	if err != nil {
		return nil, err
	}

	return &Sink{
		pw:      pw,
		writer:  compression.NewWriter(compression.Config{Kind: decision.EffectiveCompression}),
		key:     key,
		resumed: decision.ResumingExisting,
	}, nil
}

// Write consumes one framed chunk. The leading "[" of a Start chunk is
// stripped when resuming an object whose array is already open in
// storage; every other byte is handed to the compression adapter
// unmodified, since the framer's bracket/comma decisions are always made
// on the uncompressed text (§4.6).
func (s *Sink) Write(ctx context.Context, chunk framing.Chunk) error {
	data := chunk.Bytes
	var cursor record.CursorContext

	switch tag := chunk.Tag.(type) {
	case framing.Start:
		if s.resumed && len(data) > 0 && data[0] == '[' {
			data = data[1:]
		}
		cursor = tag.Ctx
	case framing.Tail:
		cursor = tag.Ctx
	}

	transformed, err := s.writer.Transform(data)
	if err != nil {
		return err
	}

	s.buf = append(s.buf, transformed...)
	s.pending = append(s.pending, cursor)

	if len(s.buf) >= constants.MinPartSizeBytes {
		return s.flush(ctx)
	}
	return nil
}

// Close flushes any buffered bytes. When closed is false, the bucket's
// substream ended without an End boundary (a shutdown or source EOF caught
// it mid-array), so the multipart upload is left open rather than
// completed, and Close returns ok=false: there is nothing to report yet,
// and a later run resumes it through the Resume Coordinator. Callers must
// not call Write after Close.
func (s *Sink) Close(ctx context.Context, closed bool) (result objectstore.BackupResult, ok bool, err error) {
	if err := s.flush(ctx); err != nil {
		return objectstore.BackupResult{}, false, err
	}
	if !closed {
		return objectstore.BackupResult{}, false, nil
	}
	result, err = s.pw.Complete(ctx)
	if err != nil {
		return objectstore.BackupResult{}, false, err
	}
	return result, true, nil
}

// flush uploads the buffered bytes as one part, retrying transient
// failures before escalating to a StoragePartFailedError. Cursors for the
// flushed bytes are only committed after the part is acknowledged, which
// is the ordering guarantee §4.7 requires.
func (s *Sink) flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}

	s.partNo++
	part := s.partNo
	data := s.buf

	err := retry.Do(
		func() error { return s.pw.WritePart(ctx, data) },
		retry.Context(ctx),
		retry.Attempts(3),
	)
	if err != nil {
		return &errs.StoragePartFailedError{Key: s.key, PartNumber: part, Err: err}
	}

	for _, c := range s.pending {
		if c != nil {
			if err := c.Commit(); err != nil {
				return err
			}
		}
	}

	s.buf = nil
	s.pending = nil
	return nil
}
