// Package broker provides the publish/consume primitives the relays depend on,
// with Redis Streams, NATS JetStream and in-process implementations.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/jnst/event-relay/internal/model"
)

// Publisher publishes payloads to a named topic. Implementations are safe for
// concurrent use; one publisher per process is sufficient.
type Publisher interface {
	// Publish returns the broker-assigned location or an error wrapping model.ErrPublish.
	Publish(ctx context.Context, topic string, env *Envelope) (*Delivery, error)
	// Close flushes buffered publishes and releases the connection.
	Close() error
}

// Consumer reads a topic as a member of a consumer group. A Consumer is owned by
// a single goroutine.
type Consumer interface {
	// Subscribe joins the consumer group for topic, creating it when absent.
	Subscribe(ctx context.Context, topic string) error
	// Poll waits at most timeout for the next message. It returns nil, nil when
	// no message arrived in time and an error wrapping model.ErrConsume for
	// retryable broker failures. A cancelled ctx returns ctx.Err().
	Poll(ctx context.Context, timeout time.Duration) (*Message, error)
	// Commit advances the group's committed position past msg.
	Commit(ctx context.Context, msg *Message) error
	// Close releases consumer resources. The committed position is kept.
	Close() error
}

// Envelope is an outbound message. Payload is the bare event content; Key and
// Timestamp travel as metadata.
type Envelope struct {
	Key       string
	Payload   []byte
	Timestamp time.Time
}

// Delivery is the broker acknowledgement of a publish.
type Delivery struct {
	Topic    string
	Location string
}

// Message is a consumed message. Key is empty when the wire carried only a payload.
type Message struct {
	Topic    string
	Key      string
	Payload  []byte
	Location string

	ref any
}

// OffsetReset selects where a new consumer group starts.
type OffsetReset string

const (
	// OffsetEarliest starts a new group at the beginning of the topic.
	OffsetEarliest OffsetReset = "earliest"
	// OffsetLatest starts a new group after the last message present at subscription time.
	OffsetLatest OffsetReset = "latest"
)

// ParseOffsetReset validates an offset reset policy name.
func ParseOffsetReset(s string) (OffsetReset, error) {
	switch OffsetReset(s) {
	case OffsetEarliest, OffsetLatest:
		return OffsetReset(s), nil
	default:
		return "", fmt.Errorf("%w: unknown offset reset %q", model.ErrInvalidArgument, s)
	}
}

// EnvelopeFor builds the outbound envelope for an event.
func EnvelopeFor(event *model.Event) *Envelope {
	return &Envelope{
		Key:       event.ID,
		Payload:   []byte(event.Content),
		Timestamp: event.CreatedAt,
	}
}

func publishError(topic string, err error) error {
	return fmt.Errorf("%w: topic %s: %w", model.ErrPublish, topic, err)
}

func consumeError(topic string, err error) error {
	return fmt.Errorf("%w: topic %s: %w", model.ErrConsume, topic, err)
}
