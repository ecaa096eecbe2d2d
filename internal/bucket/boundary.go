package bucket

import (
	"context"

	"github.com/metal-stack/kafka-backup-streamer/internal/errs"
	"github.com/metal-stack/kafka-backup-streamer/internal/record"
)

// Detect is the Boundary Detector (C2). A boundary holds between adjacent
// records (a,b) iff indexOf(b) > indexOf(a). The first record is always
// emitted as an Element; every later boundary is a record.End emitted
// immediately before the Element that opens the next bucket. Equal
// indices never produce an End. A decrease is a bug, and is signalled via
// errc as an UnhandledStreamCaseError rather than silently misframing the
// output.
func Detect(ctx context.Context, in <-chan record.Element) (<-chan record.Tagged, <-chan error) {
	out := make(chan record.Tagged)
	errc := make(chan error, 1)

	send := func(t record.Tagged) bool {
		select {
		case out <- t:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		defer close(errc)

		var (
			havePrev bool
			prevIdx  int64
		)

		for {
			select {
			case <-ctx.Done():
				return
			case el, ok := <-in:
				if !ok {
					return
				}

				if havePrev {
					switch {
					case el.Index > prevIdx:
						if !send(record.End{}) {
							return
						}
					case el.Index == prevIdx:
						// same bucket, no boundary
					default:
						errc <- errs.NewUnhandledStreamCase(
							"non-monotone bucket index",
							map[string]int64{"previous": prevIdx, "current": el.Index},
							nil,
						)
						return
					}
				}

				if !send(el) {
					return
				}

				prevIdx = el.Index
				havePrev = true
			}
		}
	}()

	return out, errc
}
