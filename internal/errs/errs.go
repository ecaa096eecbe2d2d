// Package errs defines the error kinds the backup streaming core can raise.
// Every kind is a sentinel error value, checked with errors.Is/errors.As,
// following the same small-struct-per-error-kind style the backup provider
// package used for NoBackupsAvailableError.
package errs

import "fmt"

// ErrExpectedStartOfSource indicates the upstream record stream ended
// before yielding a single record. It is always fatal.
var ErrExpectedStartOfSource = fmt.Errorf("expected at least one record to start the source")

// ErrStoragePermanent indicates a permanent storage refusal (auth, quota).
// The multipart upload, if any, is intentionally left in place.
var ErrStoragePermanent = fmt.Errorf("storage provider permanently refused the request")

// ErrSerialization indicates a record could not be serialised to JSON,
// meaning its payload was not itself well-formed JSON. Callers treat this
// as UnhandledStreamCaseError rather than a retryable condition.
var ErrSerialization = fmt.Errorf("record could not be serialised")

// UnhandledStreamCaseError signals a violated core invariant: non-monotone
// bucket indices, an impossible UploadStateResult shape, or a malformed
// substream prefix. It carries a diagnostic snapshot for post-mortem
// inspection.
type UnhandledStreamCaseError struct {
	Case     string
	Snapshot any
	Err      error
}

func (e *UnhandledStreamCaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unhandled stream case %q: %v (snapshot: %+v)", e.Case, e.Err, e.Snapshot)
	}
	return fmt.Sprintf("unhandled stream case %q (snapshot: %+v)", e.Case, e.Snapshot)
}

func (e *UnhandledStreamCaseError) Unwrap() error {
	return e.Err
}

// NewUnhandledStreamCase builds an UnhandledStreamCaseError with a snapshot
// attached for diagnostics.
func NewUnhandledStreamCase(caseName string, snapshot any, cause error) *UnhandledStreamCaseError {
	return &UnhandledStreamCaseError{Case: caseName, Snapshot: snapshot, Err: cause}
}

// StoragePartFailedError is transient: the sink retries per storage SDK
// policy before escalating. The cursor of the failed part, and of every
// part after it, must not be committed.
type StoragePartFailedError struct {
	Key        string
	PartNumber int
	Err        error
}

func (e *StoragePartFailedError) Error() string {
	return fmt.Sprintf("storage part %d of %q failed: %v", e.PartNumber, e.Key, e.Err)
}

func (e *StoragePartFailedError) Unwrap() error {
	return e.Err
}
