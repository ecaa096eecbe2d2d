package objectstore

import "context"

// prefixed wraps an Adapter and prepends prefix to every key it sees, so a
// single bucket/container can host multiple runs or topics side by side.
type prefixed struct {
	inner  Adapter
	prefix string
}

// WithPrefix returns an Adapter identical to inner except every key is
// prefixed with prefix. An empty prefix returns inner unchanged.
func WithPrefix(inner Adapter, prefix string) Adapter {
	if prefix == "" {
		return inner
	}
	return &prefixed{inner: inner, prefix: prefix}
}

func (p *prefixed) apply(key string) string {
	if key == "" {
		return key
	}
	return p.prefix + key
}

func (p *prefixed) GetCurrentUploadState(ctx context.Context, key, previousKey string) (UploadStateResult, error) {
	result, err := p.inner.GetCurrentUploadState(ctx, p.apply(key), p.apply(previousKey))
	if err != nil {
		return UploadStateResult{}, err
	}
	if result.Previous != nil {
		result.Previous.Key = previousKey
	}
	return result, nil
}

func (p *prefixed) MultipartUploadSink(ctx context.Context, key string, state UploadState, metadata BackupObjectMetadata) (PartWriter, error) {
	pw, err := p.inner.MultipartUploadSink(ctx, p.apply(key), state, metadata)
	if err != nil {
		return nil, err
	}
	return &prefixedPartWriter{inner: pw, prefix: p.prefix}, nil
}

func (p *prefixed) TerminateSink(ctx context.Context, previous PreviousUpload, data []byte) (BackupResult, error) {
	previous.Key = p.apply(previous.Key)
	result, err := p.inner.TerminateSink(ctx, previous, data)
	if err != nil {
		return BackupResult{}, err
	}
	result.Key = result.Key[len(p.prefix):]
	return result, nil
}

type prefixedPartWriter struct {
	inner  PartWriter
	prefix string
}

func (w *prefixedPartWriter) WritePart(ctx context.Context, data []byte) error {
	return w.inner.WritePart(ctx, data)
}

func (w *prefixedPartWriter) Complete(ctx context.Context) (BackupResult, error) {
	result, err := w.inner.Complete(ctx)
	if err != nil {
		return BackupResult{}, err
	}
	result.Key = result.Key[len(w.prefix):]
	return result, nil
}
