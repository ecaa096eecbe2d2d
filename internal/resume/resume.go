// Package resume implements the Resume Coordinator (C5): before a
// bucket's first chunk is written, it queries storage for any in-progress
// upload under the bucket's key or the previous bucket's key, terminates a
// stale previous upload if found, and tells the caller whether the
// current object is being opened fresh or resumed.
package resume

import (
	"context"

	"github.com/metal-stack/kafka-backup-streamer/internal/bucket"
	"github.com/metal-stack/kafka-backup-streamer/internal/compression"
	"github.com/metal-stack/kafka-backup-streamer/internal/errs"
	"github.com/metal-stack/kafka-backup-streamer/internal/objectstore"
)

// Decision is what the coordinator resolved for one bucket's object.
type Decision struct {
	// State is the upload to resume, or nil to open a fresh one.
	State objectstore.UploadState
	// ResumingExisting is true when State != nil: the Start chunk's
	// leading "[" must be dropped because the array is already open.
	ResumingExisting bool
	// EffectiveCompression is what the remainder of this object must be
	// written with, per the resume compression policy.
	EffectiveCompression bucket.CompressionKind
}

// Resolve is Querying (+ Terminating, when required) of the coordinator's
// state machine. Opening/Writing/Completing/Done are the caller's: it acts
// on the returned Decision by opening or resuming a PartWriter and driving
// it with the bucket's framed chunks.
func Resolve(ctx context.Context, adapter objectstore.Adapter, key, previousKey string, configured bucket.CompressionKind) (Decision, error) {
	result, err := adapter.GetCurrentUploadState(ctx, key, previousKey)
	if err != nil {
		return Decision{}, err
	}

	switch {
	case result.Current == nil && result.Previous == nil:
		return Decision{EffectiveCompression: configured}, nil

	case result.Current == nil && result.Previous != nil:
		if err := terminate(ctx, adapter, *result.Previous); err != nil {
			return Decision{}, err
		}
		return Decision{EffectiveCompression: configured}, nil

	case result.Current != nil && result.Previous == nil:
		existing := result.Current.Metadata.Compression
		return Decision{
			State:                result.Current.State,
			ResumingExisting:     true,
			EffectiveCompression: compression.ResolveForResume(configured, &existing),
		}, nil

	default:
		return Decision{}, errs.NewUnhandledStreamCase("impossible UploadStateResult shape: both current and previous set", result, nil)
	}
}

// terminate closes out a previous bucket's upload left in-progress by a
// crash between buckets, appending the "null]" sentinel compressed iff the
// previous object's own metadata says Gzip — never the current run's
// configuration, which may differ.
func terminate(ctx context.Context, adapter objectstore.Adapter, previous objectstore.PreviousUpload) error {
	data := []byte("null]")
	if previous.Metadata.Compression == bucket.CompressionGzip {
		gz, err := compression.GzipBytes(data, 0)
		if err != nil {
			return err
		}
		data = gz
	}

	_, err := adapter.TerminateSink(ctx, previous, data)
	return err
}
