package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed is returned when a closed broker or consumer is used.
var ErrClosed = errors.New("broker: closed")

// MemoryBroker is an in-process broker: an append-only log per topic with
// committed offsets per consumer group. It serves single-process deployments
// and tests.
type MemoryBroker struct {
	mu        sync.Mutex
	topics    map[string][]memoryRecord
	committed map[memoryGroupKey]int
	notify    chan struct{}
	closed    bool
}

type memoryRecord struct {
	key     string
	payload []byte
}

type memoryGroupKey struct {
	group string
	topic string
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		topics:    make(map[string][]memoryRecord),
		committed: make(map[memoryGroupKey]int),
		notify:    make(chan struct{}),
	}
}

var _ Publisher = (*MemoryBroker)(nil)

// Publish implements Publisher.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, env *Envelope) (*Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, publishError(topic, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, publishError(topic, ErrClosed)
	}

	payload := make([]byte, len(env.Payload))
	copy(payload, env.Payload)

	b.topics[topic] = append(b.topics[topic], memoryRecord{key: env.Key, payload: payload})
	offset := len(b.topics[topic]) - 1
	b.wakeLocked()

	return &Delivery{Topic: topic, Location: memoryLocation(topic, offset)}, nil
}

// Close stops the broker. Pending polls return ErrClosed.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		b.wakeLocked()
	}

	return nil
}

// Committed returns the next offset the group will receive for topic, or -1 if
// the group never subscribed.
func (b *MemoryBroker) Committed(group, topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	offset, ok := b.committed[memoryGroupKey{group: group, topic: topic}]
	if !ok {
		return -1
	}

	return offset
}

// NewConsumer creates a consumer that joins group when it subscribes.
func (b *MemoryBroker) NewConsumer(group string, reset OffsetReset) *MemoryConsumer {
	return &MemoryConsumer{broker: b, group: group, reset: reset}
}

func (b *MemoryBroker) wakeLocked() {
	close(b.notify)
	b.notify = make(chan struct{})
}

func memoryLocation(topic string, offset int) string {
	return fmt.Sprintf("%s:%d", topic, offset)
}

// MemoryConsumer is a consumer group member of a MemoryBroker.
type MemoryConsumer struct {
	broker *MemoryBroker
	group  string
	reset  OffsetReset
	topic  string
	cursor int
	closed bool
}

var _ Consumer = (*MemoryConsumer)(nil)

// Subscribe implements Consumer.
func (c *MemoryConsumer) Subscribe(_ context.Context, topic string) error {
	b := c.broker

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || c.closed {
		return ErrClosed
	}

	key := memoryGroupKey{group: c.group, topic: topic}
	offset, ok := b.committed[key]
	if !ok {
		if c.reset == OffsetLatest {
			offset = len(b.topics[topic])
		}
		b.committed[key] = offset
	}

	c.topic = topic
	c.cursor = offset

	return nil
}

// Poll implements Consumer.
func (c *MemoryConsumer) Poll(ctx context.Context, timeout time.Duration) (*Message, error) {
	if c.topic == "" {
		return nil, consumeError(c.topic, errors.New("not subscribed"))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	b := c.broker
	for {
		b.mu.Lock()
		if b.closed || c.closed {
			b.mu.Unlock()
			return nil, consumeError(c.topic, ErrClosed)
		}

		records := b.topics[c.topic]
		if c.cursor < len(records) {
			rec := records[c.cursor]
			offset := c.cursor
			c.cursor++
			b.mu.Unlock()

			return &Message{
				Topic:    c.topic,
				Key:      rec.key,
				Payload:  rec.payload,
				Location: memoryLocation(c.topic, offset),
				ref:      offset,
			}, nil
		}

		wait := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wait:
		}
	}
}

// Commit implements Consumer.
func (c *MemoryConsumer) Commit(_ context.Context, msg *Message) error {
	offset, ok := msg.ref.(int)
	if !ok {
		return fmt.Errorf("commit %s: message not produced by memory consumer", msg.Location)
	}

	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	key := memoryGroupKey{group: c.group, topic: c.topic}
	if next := offset + 1; next > b.committed[key] {
		b.committed[key] = next
	}

	return nil
}

// Close implements Consumer.
func (c *MemoryConsumer) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	c.closed = true

	return nil
}
