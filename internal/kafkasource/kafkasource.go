// Package kafkasource implements the Kafka Source Adapter (C9): it turns
// a Sarama consumer group's partition-scoped message delivery into the
// single ordered record.Input stream the Time-Period Assigner expects.
package kafkasource

import (
	"context"
	"errors"

	"github.com/IBM/sarama"

	"github.com/metal-stack/kafka-backup-streamer/internal/record"
)

// Source wraps one Sarama consumer group bound to one topic. A running
// pipeline instance consumes one partition's worth of ordered records;
// fanning out across partitions means running one Source (and one full
// C1..C7 pipeline) per partition, since the core assumes a single
// monotone-by-timestamp stream.
type Source struct {
	group sarama.ConsumerGroup
	topic string
}

// New opens a Sarama consumer group against brokers under groupID.
func New(brokers []string, groupID, topic string, cfg *sarama.Config) (*Source, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return &Source{group: group, topic: topic}, nil
}

// Close releases the underlying consumer group.
func (s *Source) Close() error {
	return s.group.Close()
}

// Consume runs the consumer group's claim loop until ctx is cancelled,
// sending every delivered message as a record.Input. Sarama rebalances by
// calling Consume again internally, which is why this runs it in a loop
// rather than once.
func (s *Source) Consume(ctx context.Context) (<-chan record.Input, <-chan error) {
	out := make(chan record.Input)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		handler := &groupHandler{ctx: ctx, out: out}

		for {
			if err := s.group.Consume(ctx, []string{s.topic}, handler); err != nil {
				if !errors.Is(err, sarama.ErrClosedConsumerGroup) {
					errc <- err
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	return out, errc
}

// cursorContext commits a record's cursor by marking its Kafka message
// consumed on the session that delivered it, advancing the group's
// offset for that partition.
type cursorContext struct {
	session sarama.ConsumerGroupSession
	message *sarama.ConsumerMessage
}

func (c cursorContext) Commit() error {
	c.session.MarkMessage(c.message, "")
	return nil
}

type groupHandler struct {
	ctx context.Context
	out chan<- record.Input
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			in := record.Input{
				Record: record.Record{
					Topic:     msg.Topic,
					Partition: msg.Partition,
					Offset:    msg.Offset,
					Key:       msg.Key,
					Value:     msg.Value,
					Timestamp: msg.Timestamp.UnixMilli(),
				},
				Ctx: cursorContext{session: session, message: msg},
			}

			select {
			case h.out <- in:
			case <-session.Context().Done():
				return nil
			case <-h.ctx.Done():
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}
