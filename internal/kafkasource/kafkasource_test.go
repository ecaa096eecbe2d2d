package kafkasource

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/metal-stack/kafka-backup-streamer/internal/record"
)

// fakeSession is a minimal sarama.ConsumerGroupSession double that records
// every MarkMessage call and carries its own cancellable context.
type fakeSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (s *fakeSession) Claims() map[string][]int32              { return nil }
func (s *fakeSession) MemberID() string                        { return "fake" }
func (s *fakeSession) GenerationID() int32                     { return 0 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg)
}

// fakeClaim is a minimal sarama.ConsumerGroupClaim double backed by a
// channel the test drives directly.
type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                             { return "backup" }
func (c *fakeClaim) Partition() int32                          { return 0 }
func (c *fakeClaim) InitialOffset() int64                      { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64                { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage  { return c.messages }

func TestConsumeClaimForwardsMessagesAsRecordInput(t *testing.T) {
	sessCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := &fakeSession{ctx: sessCtx}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}

	out := make(chan record.Input)
	handler := &groupHandler{ctx: context.Background(), out: out}

	done := make(chan error, 1)
	go func() { done <- handler.ConsumeClaim(session, claim) }()

	ts := time.UnixMilli(1_700_000_000_000).UTC()
	claim.messages <- &sarama.ConsumerMessage{
		Topic:     "backup",
		Partition: 3,
		Offset:    42,
		Key:       []byte("k"),
		Value:     []byte(`{"v":1}`),
		Timestamp: ts,
	}

	in := <-out
	require.Equal(t, "backup", in.Record.Topic)
	require.Equal(t, int32(3), in.Record.Partition)
	require.Equal(t, int64(42), in.Record.Offset)
	require.Equal(t, []byte("k"), in.Record.Key)
	require.Equal(t, []byte(`{"v":1}`), in.Record.Value)
	require.Equal(t, ts.UnixMilli(), in.Record.Timestamp)

	require.NoError(t, in.Ctx.Commit())
	require.Len(t, session.marked, 1)
	require.Equal(t, int64(42), session.marked[0].Offset)

	close(claim.messages)
	require.NoError(t, <-done)
}

func TestConsumeClaimStopsWhenSessionContextDone(t *testing.T) {
	sessCtx, cancel := context.WithCancel(context.Background())
	session := &fakeSession{ctx: sessCtx}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}

	out := make(chan record.Input)
	handler := &groupHandler{ctx: context.Background(), out: out}

	done := make(chan error, 1)
	go func() { done <- handler.ConsumeClaim(session, claim) }()

	cancel()
	require.NoError(t, <-done)
}

func TestConsumeClaimStopsWhenHandlerContextDone(t *testing.T) {
	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}

	hctx, hcancel := context.WithCancel(context.Background())
	out := make(chan record.Input)
	handler := &groupHandler{ctx: hctx, out: out}

	done := make(chan error, 1)
	go func() { done <- handler.ConsumeClaim(session, claim) }()

	// A message is buffered but never read, so the only way out is the
	// handler's own ctx being cancelled while blocked sending to h.out.
	claim.messages <- &sarama.ConsumerMessage{Topic: "backup", Timestamp: time.Now()}
	hcancel()
	require.NoError(t, <-done)
}

func TestCursorContextCommitMarksMessage(t *testing.T) {
	session := &fakeSession{ctx: context.Background()}
	msg := &sarama.ConsumerMessage{Topic: "backup", Partition: 1, Offset: 7}

	c := cursorContext{session: session, message: msg}
	require.NoError(t, c.Commit())

	require.Len(t, session.marked, 1)
	require.Same(t, msg, session.marked[0])
}
