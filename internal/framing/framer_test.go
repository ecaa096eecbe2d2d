package framing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metal-stack/kafka-backup-streamer/internal/bucket"
	"github.com/metal-stack/kafka-backup-streamer/internal/record"
	"github.com/metal-stack/kafka-backup-streamer/internal/split"
)

type noopCursor struct{}

func (noopCursor) Commit() error { return nil }

func newSubstream(els []record.Element, closedByEnd bool) split.Bucket {
	elements := make(chan record.Element, len(els))
	boundary := make(chan bool, 1)
	for _, e := range els {
		elements <- e
	}
	close(elements)
	boundary <- closedByEnd
	return split.Bucket{Elements: elements, Boundary: boundary}
}

func collect(t *testing.T, out <-chan Chunk, errc <-chan error) []Chunk {
	var chunks []Chunk
	for c := range out {
		chunks = append(chunks, c)
	}
	require.NoError(t, drainErr(errc))
	return chunks
}

func drainErr(errc <-chan error) error {
	for err := range errc {
		if err != nil {
			return err
		}
	}
	return nil
}

func TestFrameSingleElementClosedByEnd(t *testing.T) {
	policy := bucket.PeriodFromFirst{Period: 0}
	r := record.Record{Topic: "t", Value: []byte(`"v"`), Timestamp: 1000}
	b := newSubstream([]record.Element{{Record: r, Ctx: noopCursor{}}}, true)

	out, errc := Frame(context.Background(), b, policy, bucket.CompressionNone)
	chunks := collect(t, out, errc)

	require.Len(t, chunks, 1)
	require.IsType(t, Start{}, chunks[0].Tag)
	require.Equal(t, byte('['), chunks[0].Bytes[0])
	require.Equal(t, byte(']'), chunks[0].Bytes[len(chunks[0].Bytes)-1])
}

// A substream that exhausts without an End boundary, but whose ctx is
// still alive, has nothing left to ever extend it: it closes exactly as
// if an End had been seen.
func TestFrameSingleElementExhaustedWithoutEndStillCloses(t *testing.T) {
	policy := bucket.PeriodFromFirst{Period: 0}
	r := record.Record{Topic: "t", Value: []byte(`"v"`), Timestamp: 1000}
	b := newSubstream([]record.Element{{Record: r, Ctx: noopCursor{}}}, false)

	out, errc := Frame(context.Background(), b, policy, bucket.CompressionNone)
	chunks := collect(t, out, errc)

	require.Len(t, chunks, 1)
	require.True(t, chunks[0].Closed)
	require.Equal(t, byte(']'), chunks[0].Bytes[len(chunks[0].Bytes)-1])
}

// A substream cancelled before any element or boundary arrives leaves its
// last chunk unclosed, trailing "," so a later run can resume and append.
func TestFrameCancelledMidBucketLeavesChunkUnclosed(t *testing.T) {
	policy := bucket.PeriodFromFirst{Period: 0}
	r := record.Record{Topic: "t", Value: []byte(`"v"`), Timestamp: 1000}

	elements := make(chan record.Element)
	boundary := make(chan bool)
	b := split.Bucket{Elements: elements, Boundary: boundary}

	ctx, cancel := context.WithCancel(context.Background())
	out, errc := Frame(ctx, b, policy, bucket.CompressionNone)

	elements <- record.Element{Record: r, Ctx: noopCursor{}}
	cancel()

	chunks := collect(t, out, errc)

	require.Len(t, chunks, 1)
	require.False(t, chunks[0].Closed)
	require.Equal(t, byte(','), chunks[0].Bytes[len(chunks[0].Bytes)-1])
}

func TestFrameMultipleElements(t *testing.T) {
	policy := bucket.PeriodFromFirst{Period: 0}
	r1 := record.Record{Topic: "t", Value: []byte(`"v1"`), Timestamp: 1000}
	r2 := record.Record{Topic: "t", Value: []byte(`"v2"`), Timestamp: 1001}
	r3 := record.Record{Topic: "t", Value: []byte(`"v3"`), Timestamp: 1002}
	b := newSubstream([]record.Element{
		{Record: r1, Ctx: noopCursor{}},
		{Record: r2, Ctx: noopCursor{}},
		{Record: r3, Ctx: noopCursor{}},
	}, true)

	out, errc := Frame(context.Background(), b, policy, bucket.CompressionNone)
	chunks := collect(t, out, errc)

	require.Len(t, chunks, 3)
	require.IsType(t, Start{}, chunks[0].Tag)
	require.IsType(t, Tail{}, chunks[1].Tag)
	require.IsType(t, Tail{}, chunks[2].Tag)

	var full []byte
	for _, c := range chunks {
		full = append(full, c.Bytes...)
	}
	require.Equal(t, byte('['), full[0])
	require.Equal(t, byte(']'), full[len(full)-1])
}

func TestFrameEmptySubstreamIsUnhandled(t *testing.T) {
	elements := make(chan record.Element)
	close(elements)
	boundary := make(chan bool, 1)
	boundary <- false
	b := split.Bucket{Elements: elements, Boundary: boundary}

	out, errc := Frame(context.Background(), b, bucket.PeriodFromFirst{Period: 0}, bucket.CompressionNone)
	for range out {
	}
	require.Error(t, drainErr(errc))
}
