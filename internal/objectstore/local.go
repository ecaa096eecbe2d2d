package objectstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/spf13/afero"

	"github.com/metal-stack/kafka-backup-streamer/internal/bucket"
)

// Local is an afero.Fs-backed Adapter for offline/single-node operation
// and for tests that want a real filesystem instead of the in-memory
// adapter. An in-progress upload is tracked with a sidecar "<key>.state"
// file next to the data file; its presence is exactly what
// GetCurrentUploadState reports back as in-progress.
type Local struct {
	fs   afero.Fs
	base string
}

// NewLocal returns a Local adapter rooted at base on fs.
func NewLocal(fs afero.Fs, base string) *Local {
	return &Local{fs: fs, base: base}
}

type localState struct{}

func (localState) UploadID() string { return "local" }

type localStateFile struct {
	Compression bucket.CompressionKind `json:"compression"`
}

func (l *Local) dataPath(key string) string {
	return filepath.Join(l.base, key)
}

func (l *Local) statePath(key string) string {
	return filepath.Join(l.base, key+".state")
}

func (l *Local) readState(key string) (BackupObjectMetadata, bool, error) {
	data, err := afero.ReadFile(l.fs, l.statePath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return BackupObjectMetadata{}, false, nil
		}
		return BackupObjectMetadata{}, false, err
	}
	var sf localStateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return BackupObjectMetadata{}, false, err
	}
	return BackupObjectMetadata{Compression: sf.Compression}, true, nil
}

func (l *Local) writeState(key string, md BackupObjectMetadata) error {
	data, err := json.Marshal(localStateFile{Compression: md.Compression})
	if err != nil {
		return err
	}
	if err := l.fs.MkdirAll(filepath.Dir(l.statePath(key)), 0o777); err != nil {
		return err
	}
	return afero.WriteFile(l.fs, l.statePath(key), data, 0o644)
}

func (l *Local) removeState(key string) error {
	err := l.fs.Remove(l.statePath(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (l *Local) GetCurrentUploadState(_ context.Context, key, previousKey string) (UploadStateResult, error) {
	var result UploadStateResult

	if md, ok, err := l.readState(key); err != nil {
		return UploadStateResult{}, err
	} else if ok {
		result.Current = &CurrentUpload{State: localState{}, Metadata: md}
	}

	if previousKey != "" {
		if md, ok, err := l.readState(previousKey); err != nil {
			return UploadStateResult{}, err
		} else if ok {
			result.Previous = &PreviousUpload{State: localState{}, Metadata: md, Key: previousKey}
		}
	}

	return result, nil
}

func (l *Local) MultipartUploadSink(_ context.Context, key string, state UploadState, metadata BackupObjectMetadata) (PartWriter, error) {
	if err := l.fs.MkdirAll(filepath.Dir(l.dataPath(key)), 0o777); err != nil {
		return nil, err
	}

	if state == nil {
		f, err := l.fs.OpenFile(l.dataPath(key), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
		if err := l.writeState(key, metadata); err != nil {
			return nil, err
		}
	}

	return &localPartWriter{local: l, key: key}, nil
}

func (l *Local) TerminateSink(_ context.Context, previous PreviousUpload, data []byte) (BackupResult, error) {
	f, err := l.fs.OpenFile(l.dataPath(previous.Key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return BackupResult{}, err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return BackupResult{}, err
	}
	if err := f.Close(); err != nil {
		return BackupResult{}, err
	}
	if err := l.removeState(previous.Key); err != nil {
		return BackupResult{}, err
	}

	info, err := l.fs.Stat(l.dataPath(previous.Key))
	if err != nil {
		return BackupResult{}, err
	}

	return BackupResult{
		Key:        previous.Key,
		Bytes:      info.Size(),
		Compressed: previous.Metadata.Compression == bucket.CompressionGzip,
	}, nil
}

type localPartWriter struct {
	local *Local
	key   string
	parts int
}

func (w *localPartWriter) WritePart(_ context.Context, data []byte) error {
	f, err := w.local.fs.OpenFile(w.local.dataPath(w.key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}
	w.parts++
	return nil
}

func (w *localPartWriter) Complete(_ context.Context) (BackupResult, error) {
	if err := w.local.removeState(w.key); err != nil {
		return BackupResult{}, err
	}

	info, err := w.local.fs.Stat(w.local.dataPath(w.key))
	if err != nil {
		return BackupResult{}, err
	}

	return BackupResult{Key: w.key, Bytes: info.Size(), PartCount: w.parts}, nil
}
