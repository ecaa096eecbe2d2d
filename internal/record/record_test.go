package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalProducesCanonicalFieldOrder(t *testing.T) {
	r := Record{
		Topic:     "backups",
		Partition: 2,
		Offset:    17,
		Key:       []byte("k"),
		Value:     []byte(`{"a":1}`),
		Timestamp: 1700000000000,
	}

	data, err := Marshal(r)
	require.NoError(t, err)
	require.JSONEq(t, `{"topic":"backups","partition":2,"offset":17,"key":"aw==","value":{"a":1},"timestamp":1700000000000}`, string(data))
}

func TestMarshalOmitsEmptyKey(t *testing.T) {
	r := Record{Topic: "backups", Value: []byte(`"v"`), Timestamp: 1}

	data, err := Marshal(r)
	require.NoError(t, err)
	require.NotContains(t, string(data), `"key"`)
}

func TestElementAndEndAreDistinctTaggedShapes(t *testing.T) {
	var e Tagged = Element{Record: Record{}, Index: 3}
	var end Tagged = End{}

	_, isElement := e.(Element)
	require.True(t, isElement)

	_, isEnd := end.(End)
	require.True(t, isEnd)

	_, elementIsEnd := e.(End)
	require.False(t, elementIsEnd)
}
