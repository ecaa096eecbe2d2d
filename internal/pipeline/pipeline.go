// Package pipeline implements the Orchestrator (C8): it wires the
// Time-Period Assigner, Boundary Detector, Bucket Splitter, JSON Framer,
// Resume Coordinator, and Storage Sink into one cancellable run and
// returns the stream of completed buckets.
package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/metal-stack/kafka-backup-streamer/internal/bucket"
	"github.com/metal-stack/kafka-backup-streamer/internal/errs"
	"github.com/metal-stack/kafka-backup-streamer/internal/framing"
	"github.com/metal-stack/kafka-backup-streamer/internal/objectstore"
	"github.com/metal-stack/kafka-backup-streamer/internal/record"
	"github.com/metal-stack/kafka-backup-streamer/internal/resume"
	"github.com/metal-stack/kafka-backup-streamer/internal/sink"
	"github.com/metal-stack/kafka-backup-streamer/internal/split"
)

// Source is C9's contract as seen by the orchestrator: anything that can
// hand back an ordered record.Input stream for one partition.
type Source interface {
	Consume(ctx context.Context) (<-chan record.Input, <-chan error)
}

// Options configures one pipeline run.
type Options struct {
	Source      Source
	Policy      bucket.Policy
	Compression bucket.CompressionKind
	Adapter     objectstore.Adapter
	// OnBucketStart, if set, is called once per bucket right after its
	// key is known but before any chunk is written, letting callers
	// observe resume decisions (used by C12's resume counter).
	OnBucketStart func(key string, resumed bool)
	// OnRecord, if set, is called once for every record read from Source,
	// before it reaches the Time-Period Assigner, letting callers count
	// records processed (used by C12's records-total counter).
	OnRecord func()
	// InitialPreviousKey seeds the "previous bucket" half of the first
	// Resolve call. Within one Run, each later bucket's previous key is
	// always the one before it, tracked automatically; across process
	// restarts there is no such chain, so a caller that persists the
	// last-opened key itself (e.g. to a small state file beside the
	// consumer group's own committed offsets) passes it back in here to
	// let C5 find and terminate a bucket orphaned by a crash.
	InitialPreviousKey string
}

// Run starts the full C1..C7 chain and returns the stream of completed
// buckets alongside a combined error channel. Cancelling ctx propagates
// through every stage; any bucket in flight is left exactly as §4.7
// requires: with its multipart upload un-aborted so a later run can
// resume it through C5.
func Run(ctx context.Context, opts Options) (<-chan objectstore.BackupResult, <-chan error) {
	g, ctx := errgroup.WithContext(ctx)

	inputs, sourceErrc := opts.Source.Consume(ctx)
	if opts.OnRecord != nil {
		inputs = tapRecords(ctx, inputs, opts.OnRecord)
	}
	elements, assignErrc := bucket.Assign(ctx, inputs, opts.Policy)
	tagged, boundaryErrc := bucket.Detect(ctx, elements)
	buckets := split.Split(ctx, tagged)

	forward := func(errc <-chan error) {
		g.Go(func() error {
			for err := range errc {
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	forward(sourceErrc)
	forward(assignErrc)
	forward(boundaryErrc)

	results := make(chan objectstore.BackupResult)

	g.Go(func() error {
		defer close(results)

		previousKey := opts.InitialPreviousKey

		for b := range buckets {
			chunks, frameErrc := framing.Frame(ctx, b, opts.Policy, opts.Compression)

			result, ok, err := processBucket(ctx, opts, &previousKey, chunks)
			if err != nil {
				return err
			}
			if err := drainErr(frameErrc); err != nil {
				return err
			}
			if !ok {
				continue
			}

			select {
			case results <- result:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return nil
	})

	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		if err := g.Wait(); err != nil {
			errc <- err
		}
	}()

	return results, errc
}

// processBucket runs the Resume Coordinator and Storage Sink for one
// bucket's chunk stream: query state, open or resume the sink, drive
// every chunk through it in order, and complete. ok is false when the
// bucket's substream ended without a closing boundary, meaning nothing
// was completed and there is no result to report for it yet.
func processBucket(ctx context.Context, opts Options, previousKey *string, chunks <-chan framing.Chunk) (result objectstore.BackupResult, ok bool, err error) {
	first, open := <-chunks
	if !open {
		return objectstore.BackupResult{}, false, errs.NewUnhandledStreamCase("bucket produced no framed chunks", nil, nil)
	}
	start, isStart := first.Tag.(framing.Start)
	if !isStart {
		return objectstore.BackupResult{}, false, errs.NewUnhandledStreamCase("first framed chunk was not a Start", first.Tag, nil)
	}

	decision, err := resume.Resolve(ctx, opts.Adapter, start.Key, *previousKey, opts.Compression)
	if err != nil {
		return objectstore.BackupResult{}, false, err
	}

	if opts.OnBucketStart != nil {
		opts.OnBucketStart(start.Key, decision.ResumingExisting)
	}

	w, err := sink.Open(ctx, opts.Adapter, start.Key, decision)
	if err != nil {
		return objectstore.BackupResult{}, false, err
	}

	if err := w.Write(ctx, first); err != nil {
		return objectstore.BackupResult{}, false, err
	}
	closed := first.Closed
	for chunk := range chunks {
		if err := w.Write(ctx, chunk); err != nil {
			return objectstore.BackupResult{}, false, err
		}
		closed = chunk.Closed
	}

	result, ok, err = w.Close(ctx, closed)
	if err != nil {
		return objectstore.BackupResult{}, false, err
	}
	if !ok {
		return objectstore.BackupResult{}, false, nil
	}

	*previousKey = start.Key
	return result, true, nil
}

// tapRecords passes every record.Input from in through to the returned
// channel unchanged, calling onRecord once per record along the way.
func tapRecords(ctx context.Context, in <-chan record.Input, onRecord func()) <-chan record.Input {
	out := make(chan record.Input)
	go func() {
		defer close(out)
		for r := range in {
			onRecord()
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func drainErr(errc <-chan error) error {
	for err := range errc {
		if err != nil {
			return err
		}
	}
	return nil
}
