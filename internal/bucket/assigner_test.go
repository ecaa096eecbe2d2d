package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metal-stack/kafka-backup-streamer/internal/errs"
	"github.com/metal-stack/kafka-backup-streamer/internal/record"
)

type noopCursor struct{}

func (noopCursor) Commit() error { return nil }

func TestAssignIndexesRelativeToFirstRecord(t *testing.T) {
	ctx := context.Background()
	in := make(chan record.Input)

	out, errc := Assign(ctx, in, PeriodFromFirst{Period: time.Minute})

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	go func() {
		in <- record.Input{Record: record.Record{Timestamp: base}, Ctx: noopCursor{}}
		in <- record.Input{Record: record.Record{Timestamp: base + 30_000}, Ctx: noopCursor{}}
		in <- record.Input{Record: record.Record{Timestamp: base + 90_000}, Ctx: noopCursor{}}
		close(in)
	}()

	var indexes []int64
	for el := range out {
		indexes = append(indexes, el.Index)
	}
	require.Equal(t, []int64{0, 0, 1}, indexes)
	require.NoError(t, drainErrOnce(errc))
}

func TestAssignEmptySourceIsFatal(t *testing.T) {
	ctx := context.Background()
	in := make(chan record.Input)
	close(in)

	out, errc := Assign(ctx, in, PeriodFromFirst{Period: time.Minute})

	for range out {
		t.Fatal("expected no elements from an empty source")
	}

	err := <-errc
	require.ErrorIs(t, err, errs.ErrExpectedStartOfSource)
}

func drainErrOnce(errc <-chan error) error {
	for err := range errc {
		if err != nil {
			return err
		}
	}
	return nil
}
