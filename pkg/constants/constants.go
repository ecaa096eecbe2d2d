package constants

const (
	// DefaultObjectPrefix is used when no object prefix is configured.
	DefaultObjectPrefix = ""

	// JSONExtension is the object suffix for an uncompressed bucket object.
	JSONExtension = ".json"
	// JSONGzipExtension is the object suffix for a gzip compressed bucket object.
	JSONGzipExtension = ".json.gz"

	// CompressionMetadataKey is the storage object metadata key the adapters
	// use to record which compression a multipart upload was started with.
	CompressionMetadataKey = "compression"

	// DefaultMetricsAddr is the bind address of the metrics/health server.
	DefaultMetricsAddr = ":2112"

	// MinPartSizeBytes is the buffering threshold the sink flushes a part
	// at. It matches S3's own multipart minimum (5 MiB) so the same sink
	// logic works unmodified against S3; GCS and the local adapter tolerate
	// smaller parts just fine.
	MinPartSizeBytes = 5 * 1024 * 1024

	// GCSMaxComposeSources is the maximum number of source objects a single
	// GCS ComposeObject call accepts.
	GCSMaxComposeSources = 32
)
