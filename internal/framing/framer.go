// Package framing implements the JSON Framer (C3): it turns one bucket
// substream into a stream of byte chunks that together form exactly one
// well-formed JSON array, regardless of how the substream terminates.
package framing

import (
	"context"

	"github.com/metal-stack/kafka-backup-streamer/internal/bucket"
	"github.com/metal-stack/kafka-backup-streamer/internal/errs"
	"github.com/metal-stack/kafka-backup-streamer/internal/record"
	"github.com/metal-stack/kafka-backup-streamer/internal/split"
)

// ByteStringContext tags each chunk with how it opens the object (Start)
// or continues it (Tail), mirroring record.Tagged's sum-type shape.
type ByteStringContext interface {
	isByteStringContext()
}

// Start opens a bucket's object. Exactly one Start chunk is emitted per
// bucket, and it carries the object key the Resume Coordinator (C5) and
// Storage Sink (C7) write to.
type Start struct {
	Ctx record.CursorContext
	Key string
}

func (Start) isByteStringContext() {}

// Tail continues an already-opened object.
type Tail struct {
	Ctx record.CursorContext
}

func (Tail) isByteStringContext() {}

// Chunk is one framed byte chunk paired with the cursor context of the
// record it carries, so the sink can commit that cursor once the chunk is
// acknowledged by storage.
type Chunk struct {
	Bytes []byte
	Tag   ByteStringContext
	// Closed is true only on a bucket's final chunk, and only when that
	// chunk closes the array with "]": either an End boundary was seen,
	// or the substream's source genuinely ran out with nothing left to
	// extend it. It is false only when ctx was cancelled mid-bucket,
	// telling the sink the multipart upload must stay open for a later
	// run to resume.
	Closed bool
}

// Frame reads one bucket substream to completion and sends the framed
// chunks for it. policy and compression are the run's static configuration:
// they determine the bucket's object key (§3), not its resume state, which
// is why the framer can compute the key itself without waiting on C5.
//
// Framing rules (§4.4):
//  1. [Element, End] -> single Start chunk "[" + serialise(r) + "]"
//  2. [Element]      -> single Start chunk "[" + serialise(r) + ","
//  3. otherwise      -> Start "[" + serialise(e1) + ",", a Tail per middle
//     element, and a final Tail that closes with "]" if an End was seen or
//     leaves the trailing "," open if it wasn't.
func Frame(ctx context.Context, b split.Bucket, policy bucket.Policy, compression bucket.CompressionKind) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		first, ok := <-b.Elements
		if !ok {
			errc <- errs.NewUnhandledStreamCase("empty bucket substream", nil, nil)
			return
		}
		key := bucket.Key(first.Record.Timestamp, policy, compression)

		serialise := func(r record.Record) ([]byte, error) {
			data, err := record.Marshal(r)
			if err != nil {
				return nil, errs.NewUnhandledStreamCase("record serialisation failed", r, errs.ErrSerialization)
			}
			return data, nil
		}

		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		buffered := first
		isFirst := true

		final := func(hasEnd bool) {
			data, err := serialise(buffered.Record)
			if err != nil {
				errc <- err
				return
			}

			closing := byte(',')
			if hasEnd {
				closing = ']'
			}

			var chunk Chunk
			if isFirst {
				chunk = Chunk{
					Bytes:  concat([]byte("["), data, []byte{closing}),
					Tag:    Start{Ctx: buffered.Ctx, Key: key},
					Closed: hasEnd,
				}
			} else {
				chunk = Chunk{
					Bytes:  concat(data, []byte{closing}),
					Tag:    Tail{Ctx: buffered.Ctx},
					Closed: hasEnd,
				}
			}

			// Sent unconditionally, even past ctx cancellation: the
			// receiver (the Storage Sink) always drains this channel to
			// completion, and this chunk carries whatever was buffered
			// so it isn't lost when the substream ends mid-bucket.
			out <- chunk
		}

		for {
			var next record.Element
			var hasNext bool

			select {
			case next, hasNext = <-b.Elements:
			case <-ctx.Done():
				// b.Boundary is never written in this case: split.Split
				// abandons the substream on cancellation rather than
				// resolving it, so there is nothing to read. The
				// buffered element is flushed unclosed.
				final(false)
				return
			}

			if !hasNext {
				hasEnd := <-b.Boundary
				if !hasEnd && ctx.Err() == nil {
					// The substream ended because its source genuinely
					// ran out, not because anything was cancelled: there
					// is nothing left to ever extend this bucket, so it
					// closes exactly as if an End had been seen.
					hasEnd = true
				}
				final(hasEnd)
				return
			}

			data, err := serialise(buffered.Record)
			if err != nil {
				errc <- err
				return
			}

			var chunk Chunk
			if isFirst {
				chunk = Chunk{
					Bytes: concat([]byte("["), data, []byte(",")),
					Tag:   Start{Ctx: buffered.Ctx, Key: key},
				}
				isFirst = false
			} else {
				chunk = Chunk{
					Bytes: concat(data, []byte(",")),
					Tag:   Tail{Ctx: buffered.Ctx},
				}
			}

			if !send(chunk) {
				return
			}

			buffered = next
		}
	}()

	return out, errc
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
