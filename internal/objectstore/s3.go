package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	json "github.com/goccy/go-json"

	"github.com/metal-stack/kafka-backup-streamer/internal/bucket"
)

// S3 is the Adapter grounded on the AWS SDK v2's native multipart upload
// API. S3 objects have no readable metadata while a multipart upload is
// still in progress, so, like the GCS adapter, S3 tracks
// BackupObjectMetadata in a small marker object "<key>.inprogress" that is
// written alongside CreateMultipartUpload and deleted on completion.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 returns an Adapter backed by client, writing into bucketName.
func NewS3(client *s3.Client, bucketName string) *S3 {
	return &S3{client: client, bucket: bucketName}
}

type s3State struct {
	uploadID       string
	completedParts []types.CompletedPart
}

func (s s3State) UploadID() string { return s.uploadID }

type s3Marker struct {
	Compression bucket.CompressionKind `json:"compression"`
}

func markerKey(key string) string {
	return key + ".inprogress"
}

func (a *S3) writeMarker(ctx context.Context, key string, metadata BackupObjectMetadata) error {
	data, err := json.Marshal(s3Marker{Compression: metadata.Compression})
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(markerKey(key)),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (a *S3) readMarker(ctx context.Context, key string) (BackupObjectMetadata, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(markerKey(key)),
	})
	if err != nil {
		return BackupObjectMetadata{}, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return BackupObjectMetadata{}, err
	}

	var m s3Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return BackupObjectMetadata{}, err
	}
	return BackupObjectMetadata{Compression: m.Compression}, nil
}

func (a *S3) deleteMarker(ctx context.Context, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(markerKey(key)),
	})
	return err
}

func (a *S3) findInProgressUpload(ctx context.Context, key string) (*types.MultipartUpload, error) {
	out, err := a.client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	for _, u := range out.Uploads {
		if aws.ToString(u.Key) == key {
			upload := u
			return &upload, nil
		}
	}
	return nil, nil
}

func (a *S3) listCompletedParts(ctx context.Context, key, uploadID string) ([]types.CompletedPart, error) {
	var (
		parts      []types.CompletedPart
		partMarker *string
	)

	for {
		out, err := a.client.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(a.bucket),
			Key:              aws.String(key),
			UploadId:         aws.String(uploadID),
			PartNumberMarker: partMarker,
		})
		if err != nil {
			return nil, err
		}
		for _, p := range out.Parts {
			parts = append(parts, types.CompletedPart{ETag: p.ETag, PartNumber: p.PartNumber})
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		partMarker = out.NextPartNumberMarker
	}

	return parts, nil
}

func (a *S3) resolve(ctx context.Context, key string) (*CurrentUpload, error) {
	upload, err := a.findInProgressUpload(ctx, key)
	if err != nil {
		return nil, err
	}
	if upload == nil {
		return nil, nil
	}

	metadata, err := a.readMarker(ctx, key)
	if err != nil {
		return nil, err
	}
	parts, err := a.listCompletedParts(ctx, key, aws.ToString(upload.UploadId))
	if err != nil {
		return nil, err
	}

	return &CurrentUpload{
		State:    s3State{uploadID: aws.ToString(upload.UploadId), completedParts: parts},
		Metadata: metadata,
	}, nil
}

func (a *S3) GetCurrentUploadState(ctx context.Context, key, previousKey string) (UploadStateResult, error) {
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

func (a *S3) MultipartUploadSink(ctx context.Context, key string, state UploadState, metadata BackupObjectMetadata) (PartWriter, error) {
	if state == nil {
		out, err := a.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, err
		}
		if err := a.writeMarker(ctx, key, metadata); err != nil {
			return nil, err
		}
		return &s3PartWriter{adapter: a, key: key, uploadID: aws.ToString(out.UploadId), nextPartNumber: 1}, nil
	}

	st, ok := state.(s3State)
	if !ok {
		return nil, fmt.Errorf("unexpected upload state type %T for s3 adapter", state)
	}
	return &s3PartWriter{
		adapter:        a,
		key:            key,
		uploadID:       st.uploadID,
		nextPartNumber: int32(len(st.completedParts)) + 1,
		completed:      st.completedParts,
	}, nil
}

func (a *S3) TerminateSink(ctx context.Context, previous PreviousUpload, data []byte) (BackupResult, error) {
	st, ok := previous.State.(s3State)
	if !ok {
		return BackupResult{}, fmt.Errorf("unexpected upload state type %T for s3 adapter", previous.State)
	}

	nextPartNumber := int32(len(st.completedParts)) + 1
	out, err := a.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(a.bucket),
		Key:        aws.String(previous.Key),
		UploadId:   aws.String(st.uploadID),
		PartNumber: aws.Int32(nextPartNumber),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return BackupResult{}, err
	}

	completed := append(st.completedParts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(nextPartNumber)})

	_, err = a.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(previous.Key),
		UploadId:        aws.String(st.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return BackupResult{}, err
	}

	if err := a.deleteMarker(ctx, previous.Key); err != nil {
		return BackupResult{}, err
	}

	size, err := a.objectSize(ctx, previous.Key)
	if err != nil {
		return BackupResult{}, err
	}

	return BackupResult{
		Key:        previous.Key,
		Bytes:      size,
		PartCount:  len(completed),
		Compressed: previous.Metadata.Compression == bucket.CompressionGzip,
	}, nil
}

func (a *S3) objectSize(ctx context.Context, key string) (int64, error) {
	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

type s3PartWriter struct {
	adapter        *S3
	key            string
	uploadID       string
	nextPartNumber int32
	completed      []types.CompletedPart
	bytesWritten   int64
}

func (w *s3PartWriter) WritePart(ctx context.Context, data []byte) error {
	out, err := w.adapter.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.adapter.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(w.nextPartNumber),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return err
	}

	w.completed = append(w.completed, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(w.nextPartNumber)})
	w.nextPartNumber++
	w.bytesWritten += int64(len(data))
	return nil
}

func (w *s3PartWriter) Complete(ctx context.Context) (BackupResult, error) {
	_, err := w.adapter.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.adapter.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: w.completed},
	})
	if err != nil {
		return BackupResult{}, err
	}

	if err := w.adapter.deleteMarker(ctx, w.key); err != nil {
		return BackupResult{}, err
	}

	return BackupResult{Key: w.key, PartCount: len(w.completed), Bytes: w.bytesWritten}, nil
}
