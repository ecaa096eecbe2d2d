// Package split implements the Bucket Splitter (C4): it turns the flat
// Element/End stream produced by the boundary detector into one substream
// per bucket.
package split

import (
	"context"

	"github.com/metal-stack/kafka-backup-streamer/internal/record"
)

// Bucket is one substream: its Elements channel carries at least one
// record.Element, and its Boundary channel carries exactly one value once
// Elements is closed, telling the framer (C3) whether the substream ended
// because an End marker was consumed (true) or because the upstream
// stream itself ended or was cancelled first (false). The End marker
// itself is consumed by the splitter and never appears on Elements.
type Bucket struct {
	Elements <-chan record.Element
	Boundary <-chan bool
}

// Split consumes End as the split marker and emits one Bucket per bucket
// on the returned channel. A Bucket is only published once its first
// Element is available, so a consumer that ranges over the outer channel
// never observes an empty bucket.
//
// Cancelling ctx aborts both the outer channel and whatever substream is
// currently open, which is how a downstream failure propagates upward to
// abort the whole pipeline instead of silently skipping records.
func Split(ctx context.Context, in <-chan record.Tagged) <-chan Bucket {
	outer := make(chan Bucket)

	go func() {
		defer close(outer)

		var (
			elements chan record.Element
			boundary chan bool
		)

		finish := func(closedByEnd bool) {
			if elements == nil {
				return
			}
			boundary <- closedByEnd
			close(elements)
			close(boundary)
			elements, boundary = nil, nil
		}

		for {
			select {
			case <-ctx.Done():
				return
			case tagged, ok := <-in:
				if !ok {
					finish(false)
					return
				}

				switch t := tagged.(type) {
				case record.Element:
					if elements == nil {
						elements = make(chan record.Element)
						boundary = make(chan bool, 1)
						select {
						case outer <- Bucket{Elements: elements, Boundary: boundary}:
						case <-ctx.Done():
							return
						}
					}
					select {
					case elements <- t:
					case <-ctx.Done():
						return
					}
				case record.End:
					finish(true)
				}
			}
		}
	}()

	return outer
}
