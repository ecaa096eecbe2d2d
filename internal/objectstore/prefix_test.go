package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metal-stack/kafka-backup-streamer/internal/bucket"
)

func TestWithPrefixEmptyPrefixIsPassthrough(t *testing.T) {
	mem := NewMemory()
	require.Same(t, Adapter(mem), WithPrefix(mem, ""))
}

func TestWithPrefixHidesPrefixFromCaller(t *testing.T) {
	mem := NewMemory()
	a := WithPrefix(mem, "tenant-a/")
	ctx := context.Background()

	pw, err := a.MultipartUploadSink(ctx, "k1", nil, BackupObjectMetadata{Compression: bucket.CompressionNone})
	require.NoError(t, err)
	require.NoError(t, pw.WritePart(ctx, []byte("[1]")))

	result, err := pw.Complete(ctx)
	require.NoError(t, err)
	require.Equal(t, "k1", result.Key)

	_, ok := mem.Completed("tenant-a/k1")
	require.True(t, ok)
	_, ok = mem.Completed("k1")
	require.False(t, ok)
}

func TestWithPrefixPreviousKeyRoundTrips(t *testing.T) {
	mem := NewMemory()
	a := WithPrefix(mem, "tenant-a/")
	ctx := context.Background()

	pw, err := a.MultipartUploadSink(ctx, "k1", nil, BackupObjectMetadata{Compression: bucket.CompressionGzip})
	require.NoError(t, err)
	require.NoError(t, pw.WritePart(ctx, []byte("[1,")))

	result, err := a.GetCurrentUploadState(ctx, "k2", "k1")
	require.NoError(t, err)
	require.NotNil(t, result.Previous)
	require.Equal(t, "k1", result.Previous.Key)

	terminated, err := a.TerminateSink(ctx, *result.Previous, []byte("null]"))
	require.NoError(t, err)
	require.Equal(t, "k1", terminated.Key)
}
