package bucket

import (
	"time"

	"github.com/metal-stack/kafka-backup-streamer/pkg/constants"
)

// CompressionKind discriminates the compression a bucket object was, or
// will be, written with. It mirrors BackupObjectMetadata.compression.
type CompressionKind int

const (
	CompressionNone CompressionKind = iota
	CompressionGzip
)

// Key is a pure function of the bucket's first record timestamp, the
// active policy, and compression. Same inputs always yield the same
// output, which is what guarantees distinct buckets produce distinct
// keys within one run.
func Key(firstRecordOfBucketTsMillis int64, policy Policy, compression CompressionKind) string {
	anchor := policy.BucketKeyAnchor(firstRecordOfBucketTsMillis)
	ts := time.UnixMilli(anchor).UTC()

	ext := constants.JSONExtension
	if compression == CompressionGzip {
		ext = constants.JSONGzipExtension
	}

	return ts.Format(time.RFC3339) + ext
}
