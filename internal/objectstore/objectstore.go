// Package objectstore defines the storage collaborator the Resume
// Coordinator and Storage Sink depend on, plus the concrete adapters that
// implement it against S3, GCS, the local filesystem, and memory.
package objectstore

import (
	"context"

	"github.com/metal-stack/kafka-backup-streamer/internal/bucket"
)

// UploadState is an opaque, storage-specific handle identifying an
// in-progress multipart upload (an S3 upload ID plus completed part
// numbers, a GCS part-object manifest, ...). The core never inspects or
// mutates it; it is carried by value between GetCurrentUploadState and
// the sink that resumes it.
type UploadState interface {
	// UploadID is surfaced only for logging; adapters may return "".
	UploadID() string
}

// BackupObjectMetadata is the bookkeeping every adapter attaches to an
// in-progress object so a later run can learn what compression it was
// started with, independent of that run's own configuration.
type BackupObjectMetadata struct {
	Compression bucket.CompressionKind
}

// CurrentUpload pairs an in-progress upload's state with its metadata.
type CurrentUpload struct {
	State    UploadState
	Metadata BackupObjectMetadata
}

// PreviousUpload is CurrentUpload plus the key it belongs to, since the
// previous bucket's key is never the key the coordinator just computed.
type PreviousUpload struct {
	State    UploadState
	Metadata BackupObjectMetadata
	Key      string
}

// UploadStateResult is the outcome of querying storage for a bucket's
// upload state. At most one of Current/Previous is populated; both set is
// an invariant violation the coordinator reports as an UnhandledStreamCaseError.
type UploadStateResult struct {
	Current  *CurrentUpload
	Previous *PreviousUpload
}

// BackupResult is intentionally opaque to the core. Adapters are free to
// put whatever is useful for observability in it (final size, ETag, part
// count); the pipeline only ever passes it through to its caller.
type BackupResult struct {
	Key        string
	Bytes      int64
	PartCount  int
	Compressed bool
}

// PartWriter is the sequential, ordered sink a bucket's framed chunks are
// written into. Callers must call WritePart for every chunk in order, then
// Complete exactly once; cancellation without calling Complete is allowed
// and intentionally leaves the multipart upload resumable.
type PartWriter interface {
	// WritePart uploads one part. Implementations may buffer below a
	// storage-minimum part size and flush on Complete.
	WritePart(ctx context.Context, data []byte) error
	// Complete finalises the multipart upload and returns its result.
	Complete(ctx context.Context) (BackupResult, error)
}

// Adapter resolves a bucket's upload state, opens or resumes its sink,
// and terminates a stale in-progress object left by a prior run.
type Adapter interface {
	// GetCurrentUploadState looks up key's own in-progress upload and the
	// immediately preceding bucket's, per the three legal UploadStateResult
	// shapes of the resume coordinator.
	GetCurrentUploadState(ctx context.Context, key, previousKey string) (UploadStateResult, error)

	// MultipartUploadSink opens a PartWriter for key, resuming state if
	// non-nil or starting a fresh multipart upload otherwise.
	MultipartUploadSink(ctx context.Context, key string, state UploadState, metadata BackupObjectMetadata) (PartWriter, error)

	// TerminateSink writes data (always "null]", optionally gzipped) as the
	// final part of previous's upload and completes it.
	TerminateSink(ctx context.Context, previous PreviousUpload, data []byte) (BackupResult, error)
}
