package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"cloud.google.com/go/storage"
	json "github.com/goccy/go-json"
	"google.golang.org/api/iterator"

	"github.com/metal-stack/kafka-backup-streamer/internal/bucket"
	"github.com/metal-stack/kafka-backup-streamer/pkg/constants"
)

// GCS is the Adapter grounded on cloud.google.com/go/storage. GCS has no
// native multipart upload API, so an in-progress upload is emulated: each
// part is written as its own temp object under "<key>.parts/<n>", a
// marker object "<key>.inprogress" records BackupObjectMetadata while the
// upload is open, and Complete composes the part objects into key with
// storage.ComposerFrom, batching at constants.GCSMaxComposeSources since
// GCS refuses to compose more than that in one call.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS returns an Adapter backed by client, writing into bucketName.
func NewGCS(client *storage.Client, bucketName string) *GCS {
	return &GCS{client: client, bucket: bucketName}
}

type gcsState struct {
	partCount int
}

func (s gcsState) UploadID() string {
	return fmt.Sprintf("gcs-%d-parts", s.partCount)
}

type gcsMarker struct {
	Compression bucket.CompressionKind `json:"compression"`
}

func markerName(key string) string  { return key + ".inprogress" }
func partsPrefix(key string) string { return key + ".parts/" }
func mergePrefix(key string) string { return key + ".merge/" }

func partName(key string, n int) string {
	return fmt.Sprintf("%s%08d", partsPrefix(key), n)
}

func (a *GCS) bkt() *storage.BucketHandle {
	return a.client.Bucket(a.bucket)
}

func (a *GCS) writeMarker(ctx context.Context, key string, metadata BackupObjectMetadata) error {
	data, err := json.Marshal(gcsMarker{Compression: metadata.Compression})
	if err != nil {
		return err
	}
	w := a.bkt().Object(markerName(key)).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (a *GCS) readMarker(ctx context.Context, key string) (BackupObjectMetadata, bool, error) {
	r, err := a.bkt().Object(markerName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return BackupObjectMetadata{}, false, nil
		}
		return BackupObjectMetadata{}, false, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return BackupObjectMetadata{}, false, err
	}

	var m gcsMarker
	if err := json.Unmarshal(data, &m); err != nil {
		return BackupObjectMetadata{}, false, err
	}
	return BackupObjectMetadata{Compression: m.Compression}, true, nil
}

// listPartNames returns key's uploaded part object names, sorted by part
// index (the zero-padded suffix sorts lexically the same as numerically).
func (a *GCS) listPartNames(ctx context.Context, key string) ([]string, error) {
	var names []string
	it := a.bkt().Objects(ctx, &storage.Query{Prefix: partsPrefix(key)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (a *GCS) resolve(ctx context.Context, key string) (*CurrentUpload, error) {
	metadata, ok, err := a.readMarker(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	parts, err := a.listPartNames(ctx, key)
	if err != nil {
		return nil, err
	}

	return &CurrentUpload{State: gcsState{partCount: len(parts)}, Metadata: metadata}, nil
}

func (a *GCS) GetCurrentUploadState(ctx context.Context, key, previousKey string) (UploadStateResult, error) {
	var result UploadStateResult

	current, err := a.resolve(ctx, key)
	if err != nil {
		return UploadStateResult{}, err
	}
	result.Current = current

	if previousKey != "" {
		previous, err := a.resolve(ctx, previousKey)
		if err != nil {
			return UploadStateResult{}, err
		}
		if previous != nil {
			result.Previous = &PreviousUpload{State: previous.State, Metadata: previous.Metadata, Key: previousKey}
		}
	}

	return result, nil
}

func (a *GCS) MultipartUploadSink(ctx context.Context, key string, state UploadState, metadata BackupObjectMetadata) (PartWriter, error) {
	nextPart := 0

	if state == nil {
		if err := a.writeMarker(ctx, key, metadata); err != nil {
			return nil, err
		}
	} else {
		st, ok := state.(gcsState)
		if !ok {
			return nil, fmt.Errorf("unexpected upload state type %T for gcs adapter", state)
		}
		nextPart = st.partCount
	}

	return &gcsPartWriter{adapter: a, key: key, nextPart: nextPart}, nil
}

func (a *GCS) TerminateSink(ctx context.Context, previous PreviousUpload, data []byte) (BackupResult, error) {
	st, ok := previous.State.(gcsState)
	if !ok {
		return BackupResult{}, fmt.Errorf("unexpected upload state type %T for gcs adapter", previous.State)
	}

	if err := a.writePart(ctx, previous.Key, st.partCount, data); err != nil {
		return BackupResult{}, err
	}

	return a.complete(ctx, previous.Key, previous.Metadata.Compression == bucket.CompressionGzip)
}

func (a *GCS) writePart(ctx context.Context, key string, n int, data []byte) error {
	w := a.bkt().Object(partName(key, n)).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// compose composes sources into dest, batching to stay within
// constants.GCSMaxComposeSources and cleaning up the intermediate merge
// objects it creates along the way.
func (a *GCS) compose(ctx context.Context, dest string, sources []string) error {
	round := 0
	current := sources

	for len(current) > constants.GCSMaxComposeSources {
		var next []string
		for i := 0; i < len(current); i += constants.GCSMaxComposeSources {
			end := i + constants.GCSMaxComposeSources
			if end > len(current) {
				end = len(current)
			}
			tmp := fmt.Sprintf("%s%d-%d", mergePrefix(dest), round, i)
			if err := a.composeOnce(ctx, tmp, current[i:end]); err != nil {
				return err
			}
			next = append(next, tmp)
		}
		current = next
		round++
	}

	return a.composeOnce(ctx, dest, current)
}

func (a *GCS) composeOnce(ctx context.Context, dest string, sources []string) error {
	handles := make([]*storage.ObjectHandle, 0, len(sources))
	for _, s := range sources {
		handles = append(handles, a.bkt().Object(s))
	}
	_, err := a.bkt().Object(dest).ComposerFrom(handles...).Run(ctx)
	return err
}

func (a *GCS) complete(ctx context.Context, key string, compressed bool) (BackupResult, error) {
	parts, err := a.listPartNames(ctx, key)
	if err != nil {
		return BackupResult{}, err
	}

	if err := a.compose(ctx, key, parts); err != nil {
		return BackupResult{}, err
	}

	if err := a.cleanup(ctx, key, parts); err != nil {
		return BackupResult{}, err
	}

	attrs, err := a.bkt().Object(key).Attrs(ctx)
	if err != nil {
		return BackupResult{}, err
	}

	return BackupResult{Key: key, Bytes: attrs.Size, PartCount: len(parts), Compressed: compressed}, nil
}

func (a *GCS) cleanup(ctx context.Context, key string, parts []string) error {
	for _, p := range parts {
		if err := a.bkt().Object(p).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return err
		}
	}
	if err := a.bkt().Object(markerName(key)).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}

	it := a.bkt().Objects(ctx, &storage.Query{Prefix: mergePrefix(key)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return err
		}
		if err := a.bkt().Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return err
		}
	}
	return nil
}

type gcsPartWriter struct {
	adapter      *GCS
	key          string
	nextPart     int
	bytesWritten int64
}

func (w *gcsPartWriter) WritePart(ctx context.Context, data []byte) error {
	if err := w.adapter.writePart(ctx, w.key, w.nextPart, data); err != nil {
		return err
	}
	w.nextPart++
	w.bytesWritten += int64(len(data))
	return nil
}

func (w *gcsPartWriter) Complete(ctx context.Context) (BackupResult, error) {
	metadata, ok, err := w.adapter.readMarker(ctx, w.key)
	if err != nil {
		return BackupResult{}, err
	}
	compressed := ok && metadata.Compression == bucket.CompressionGzip
	return w.adapter.complete(ctx, w.key, compressed)
}
