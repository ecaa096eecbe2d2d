package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnhandledStreamCaseErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := NewUnhandledStreamCase("non-monotone index", map[string]int64{"index": -1}, cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "non-monotone index")
	require.Contains(t, err.Error(), "boom")
}

func TestUnhandledStreamCaseErrorWithoutCause(t *testing.T) {
	err := NewUnhandledStreamCase("empty bucket substream", nil, nil)

	require.Nil(t, errors.Unwrap(err))
	require.Contains(t, err.Error(), "empty bucket substream")
	require.NotContains(t, err.Error(), "%!")
}

func TestStoragePartFailedErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := &StoragePartFailedError{Key: "key-1", PartNumber: 3, Err: cause}

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "key-1")
	require.Contains(t, err.Error(), "3")
}
