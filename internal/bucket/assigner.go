package bucket

import (
	"context"

	"github.com/metal-stack/kafka-backup-streamer/internal/errs"
	"github.com/metal-stack/kafka-backup-streamer/internal/record"
)

// Assign is the Time-Period Assigner (C1). It reads exactly one record to
// establish firstTimestamp and the run anchor, then emits an Element with
// its bucket index set for every record including the first. It fails
// with ErrExpectedStartOfSource if the upstream is empty, and is a pure
// function of (firstTimestamp, policy, record.timestamp) beyond that.
//
// Assign owns neither channel: closing out or observing in closed is the
// caller's responsibility, matching the cooperative, demand-driven model
// of the rest of the pipeline.
func Assign(ctx context.Context, in <-chan record.Input, policy Policy) (<-chan record.Element, <-chan error) {
	out := make(chan record.Element)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		var (
			anchor     int64
			haveAnchor bool
		)

		for {
			select {
			case <-ctx.Done():
				return
			case in, ok := <-in:
				if !ok {
					if !haveAnchor {
						errc <- errs.ErrExpectedStartOfSource
					}
					return
				}

				if !haveAnchor {
					anchor = policy.Anchor(in.Record.Timestamp)
					haveAnchor = true
				}

				idx := policy.Index(in.Record.Timestamp, anchor)

				select {
				case out <- record.Element{Record: in.Record, Ctx: in.Ctx, Index: idx}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errc
}
