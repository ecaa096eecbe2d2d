// Package record defines the reduced consumer record and the tagged
// stream elements that C1-C4 pass between pipeline stages.
package record

import (
	json "github.com/goccy/go-json"
)

// Record is a reduced Kafka consumer record. Timestamp is epoch millis and
// is the sole input to bucketing. Field order is the canonical,
// deterministic serialisation order. Value is json.RawMessage rather than
// []byte so the message payload, which is itself already JSON, is embedded
// verbatim in the backed-up object instead of being re-escaped as a
// base64 string.
type Record struct {
	Topic     string          `json:"topic"`
	Partition int32           `json:"partition"`
	Offset    int64           `json:"offset"`
	Key       []byte          `json:"key,omitempty"`
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`
}

// Marshal serialises a record with the canonical no-whitespace encoder.
// It fails only if r.Value is not itself well-formed JSON, which should
// never happen for a payload the source topic itself accepted.
func Marshal(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// CursorContext is an opaque upstream token sufficient to mark a record as
// consumed. The core never inspects it beyond passing it to Commit.
type CursorContext interface {
	// Commit marks the record carrying this context as consumed upstream.
	Commit() error
}

// Input is one (record, cursor) pair as delivered by the upstream consumer,
// before a bucket index has been assigned.
type Input struct {
	Record Record
	Ctx    CursorContext
}

// Tagged is implemented by Element and End, the two shapes of the flat
// stream C2 produces and C4 splits on.
type Tagged interface {
	isTagged()
}

// Element carries one record and its cursor context.
type Element struct {
	Record Record
	Ctx    CursorContext
	// Index is the record's bucket index, set by C1 and read by C2.
	Index int64
}

func (Element) isTagged() {}

// End marks a bucket boundary. It carries no context: the record before it
// already committed the last cursor of the closing bucket.
type End struct{}

func (End) isTagged() {}
