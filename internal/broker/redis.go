package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/rueidis"
)

// Stream entry fields written by RedisPublisher.
const (
	redisFieldPayload   = "payload"
	redisFieldEventID   = "event_id"
	redisFieldCreatedAt = "created_at"

	redisTimeFormat = time.RFC3339Nano
)

// NewRedisClient connects to Redis. requestTimeout bounds a single write to the server.
func NewRedisClient(addr string, requestTimeout time.Duration) (rueidis.Client, error) {
	return rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      []string{addr},
		ConnWriteTimeout: requestTimeout,
	})
}

// RedisPublisher publishes to Redis Streams; the topic is the stream key.
type RedisPublisher struct {
	client rueidis.Client
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher creates a publisher owning client.
func NewRedisPublisher(client rueidis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish implements Publisher. The returned location is the stream entry id.
func (p *RedisPublisher) Publish(ctx context.Context, topic string, env *Envelope) (*Delivery, error) {
	cmd := p.client.B().Xadd().Key(topic).Id("*").
		FieldValue().FieldValue(redisFieldPayload, string(env.Payload)).
		FieldValue(redisFieldEventID, env.Key).
		FieldValue(redisFieldCreatedAt, env.Timestamp.Format(redisTimeFormat)).
		Build()

	entryID, err := p.client.Do(ctx, cmd).ToString()
	if err != nil {
		return nil, publishError(topic, err)
	}

	return &Delivery{Topic: topic, Location: entryID}, nil
}

// Close implements Publisher.
func (p *RedisPublisher) Close() error {
	p.client.Close()
	return nil
}

// RedisConsumer reads a stream as a member of a Redis consumer group.
type RedisConsumer struct {
	client rueidis.Client
	group  string
	name   string
	reset  OffsetReset
	topic  string

	// pendingCursor walks this member's pending entries list after a restart;
	// empty once the list has been replayed.
	pendingCursor string
}

var _ Consumer = (*RedisConsumer)(nil)

// NewRedisConsumer creates a consumer owning client.
func NewRedisConsumer(client rueidis.Client, group, name string, reset OffsetReset) *RedisConsumer {
	return &RedisConsumer{
		client: client,
		group:  group,
		name:   name,
		reset:  reset,
	}
}

// Subscribe implements Consumer. An existing group keeps its position.
func (c *RedisConsumer) Subscribe(ctx context.Context, topic string) error {
	createGroupCmd := c.client.B().XgroupCreate().Key(topic).Group(c.group).
		Id(redisGroupStartID(c.reset)).Mkstream().Build()

	if err := c.client.Do(ctx, createGroupCmd).Error(); err != nil {
		if !isBusyGroup(err) {
			return fmt.Errorf("create consumer group %s on %s: %w", c.group, topic, err)
		}

		slog.Debug("consumer group already exists",
			slog.String("stream", topic),
			slog.String("group", c.group),
		)
	}

	c.topic = topic
	c.pendingCursor = "0"

	return nil
}

// Poll implements Consumer. Entries delivered to this member but never
// acknowledged are replayed before new entries are read.
func (c *RedisConsumer) Poll(ctx context.Context, timeout time.Duration) (*Message, error) {
	if c.topic == "" {
		return nil, consumeError(c.topic, fmt.Errorf("not subscribed"))
	}

	for c.pendingCursor != "" {
		entry, err := c.read(ctx, c.pendingCursor, 0)
		if err != nil {
			return nil, err
		}

		if entry == nil {
			c.pendingCursor = ""
			break
		}

		c.pendingCursor = entry.ID
		if entry.FieldValues == nil {
			// Trimmed from the stream while pending; nothing to deliver.
			c.ack(ctx, entry.ID)
			continue
		}

		return redisMessage(c.topic, *entry), nil
	}

	entry, err := c.read(ctx, ">", timeout)
	if err != nil || entry == nil {
		return nil, err
	}

	return redisMessage(c.topic, *entry), nil
}

// Commit implements Consumer.
func (c *RedisConsumer) Commit(ctx context.Context, msg *Message) error {
	ackCmd := c.client.B().Xack().Key(c.topic).Group(c.group).Id(msg.Location).Build()
	if err := c.client.Do(ctx, ackCmd).Error(); err != nil {
		return fmt.Errorf("ack %s: %w", msg.Location, err)
	}

	return nil
}

// Close implements Consumer.
func (c *RedisConsumer) Close() error {
	c.client.Close()
	return nil
}

func (c *RedisConsumer) read(ctx context.Context, id string, block time.Duration) (*rueidis.XRangeEntry, error) {
	var readCmd rueidis.Completed
	if block > 0 {
		readCmd = c.client.B().Xreadgroup().Group(c.group, c.name).
			Count(1).
			Block(max(block.Milliseconds(), 1)).
			Streams().
			Key(c.topic).
			Id(id).
			Build()
	} else {
		readCmd = c.client.B().Xreadgroup().Group(c.group, c.name).
			Count(1).
			Streams().
			Key(c.topic).
			Id(id).
			Build()
	}

	result := c.client.Do(ctx, readCmd)
	if err := result.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		return nil, consumeError(c.topic, err)
	}

	streams, err := result.AsXRead()
	if err != nil {
		return nil, consumeError(c.topic, err)
	}

	entries := streams[c.topic]
	if len(entries) == 0 {
		return nil, nil
	}

	return &entries[0], nil
}

func (c *RedisConsumer) ack(ctx context.Context, entryID string) {
	if err := c.Commit(ctx, &Message{Location: entryID}); err != nil {
		slog.Error("failed to ACK message",
			slog.String("message_id", entryID),
			slog.String("error", err.Error()),
		)
	}
}

func redisMessage(topic string, entry rueidis.XRangeEntry) *Message {
	return &Message{
		Topic:    topic,
		Key:      entry.FieldValues[redisFieldEventID],
		Payload:  []byte(entry.FieldValues[redisFieldPayload]),
		Location: entry.ID,
	}
}

func redisGroupStartID(reset OffsetReset) string {
	if reset == OffsetLatest {
		return "$"
	}

	return "0"
}

func isBusyGroup(err error) bool {
	return strings.Contains(err.Error(), "BUSYGROUP")
}
