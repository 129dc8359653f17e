// Package eventlog adapts the durable event log the state engine replays
// from. The core only ever sees Log: append, subscribe-from, bounded range
// read, and durable-consumer reset, all independent of the backing
// transport.
package eventlog

import (
	"context"
	"time"
)

// Delivery selects where a subscription starts reading from.
type Delivery struct {
	// All replays the subject from the beginning of retained history.
	All bool
	// StartSequence resumes delivery at sequence+1 when All is false.
	StartSequence uint64
}

// DeliverAll requests replay from the beginning of retained history.
func DeliverAll() Delivery { return Delivery{All: true} }

// DeliverByStartSequence resumes delivery after the given sequence.
func DeliverByStartSequence(seq uint64) Delivery { return Delivery{StartSequence: seq} }

// Message is one delivered log entry. Ack must be called after the
// consumer has durably processed Data; delivery is at-least-once so
// processing must tolerate redelivery.
type Message struct {
	Sequence uint64
	Subject  string
	Data     []byte
	Ack      func() error
}

// Log is the durable append-only log the state engine replays from.
type Log interface {
	// Append durably persists data under subject and returns the assigned
	// stream sequence. Blocks until the log has acknowledged the write.
	Append(ctx context.Context, subject string, data []byte) (uint64, error)

	// SubscribeFrom opens a durable pull consumer over subjectWildcard and
	// streams messages on the returned channel until ctx is canceled. The
	// channel is closed when the subscription ends.
	SubscribeFrom(ctx context.Context, subjectWildcard, consumerName string, delivery Delivery) (<-chan Message, error)

	// ReadRange returns raw payloads for subject published at or after
	// since, oldest-first, bounded to max entries.
	ReadRange(ctx context.Context, subject string, since time.Time, max int) ([][]byte, error)

	// ResetConsumer deletes consumerName if present and recreates it with
	// delivery, so a cold start in All mode is guaranteed a full replay
	// instead of silently resuming wherever a stale consumer left off.
	ResetConsumer(ctx context.Context, consumerName string, delivery Delivery) error

	// Close releases the underlying connection.
	Close() error
}
