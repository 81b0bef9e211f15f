package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	natsEventTimeHdr = "Relay-Event-Time"
	natsAckWait      = 30 * time.Second
)

var natsNameReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "/", "_", "\\", "_")

// ConnectNATS connects with automatic reconnection. requestTimeout bounds the
// initial dial. Extra options are appended to the defaults.
func ConnectNATS(url string, requestTimeout time.Duration, opts ...nats.Option) (*nats.Conn, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(requestTimeout),
	}

	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	return nc, nil
}

// NATSPublisher publishes to JetStream. Each topic is a subject captured by a
// stream of the same (sanitized) name, created on first use.
type NATSPublisher struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	streams sync.Map
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher creates a publisher owning nc. requestTimeout bounds each
// JetStream API request and publish acknowledgement.
func NewNATSPublisher(nc *nats.Conn, requestTimeout time.Duration) (*NATSPublisher, error) {
	js, err := nc.JetStream(nats.MaxWait(requestTimeout))
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	return &NATSPublisher{conn: nc, js: js}, nil
}

// Publish implements Publisher. Key is sent as the Nats-Msg-Id header so the
// server de-duplicates retried publishes of the same event.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, env *Envelope) (*Delivery, error) {
	if _, ok := p.streams.Load(topic); !ok {
		if _, err := ensureStream(p.js, topic); err != nil {
			return nil, publishError(topic, err)
		}
		p.streams.Store(topic, struct{}{})
	}

	msg := nats.NewMsg(topic)
	msg.Data = env.Payload
	if env.Key != "" {
		msg.Header.Set(nats.MsgIdHdr, env.Key)
	}
	if !env.Timestamp.IsZero() {
		msg.Header.Set(natsEventTimeHdr, env.Timestamp.Format(time.RFC3339Nano))
	}

	ack, err := p.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return nil, publishError(topic, err)
	}

	return &Delivery{Topic: topic, Location: natsLocation(ack.Stream, ack.Sequence)}, nil
}

// Close flushes outstanding data and closes the connection.
func (p *NATSPublisher) Close() error {
	err := p.conn.Flush()
	p.conn.Close()

	return err
}

// NATSConsumer reads a topic through a durable JetStream pull consumer named
// after the consumer group.
type NATSConsumer struct {
	conn  *nats.Conn
	js    nats.JetStreamContext
	group string
	reset OffsetReset
	topic string
	sub   *nats.Subscription
}

var _ Consumer = (*NATSConsumer)(nil)

// NewNATSConsumer creates a consumer owning nc.
func NewNATSConsumer(nc *nats.Conn, group string, reset OffsetReset) (*NATSConsumer, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	return &NATSConsumer{conn: nc, js: js, group: group, reset: reset}, nil
}

// Subscribe implements Consumer. The durable consumer is created explicitly
// and bound, so closing the subscription does not delete it and the group's
// position survives restarts.
func (c *NATSConsumer) Subscribe(ctx context.Context, topic string) error {
	stream, err := ensureStream(c.js, topic)
	if err != nil {
		return fmt.Errorf("ensure stream for %s: %w", topic, err)
	}

	durable := natsName(c.group)
	if _, err := c.js.ConsumerInfo(stream, durable, nats.Context(ctx)); err != nil {
		if !errors.Is(err, nats.ErrConsumerNotFound) {
			return fmt.Errorf("consumer info %s: %w", durable, err)
		}

		deliver := nats.DeliverAllPolicy
		if c.reset == OffsetLatest {
			deliver = nats.DeliverNewPolicy
		}

		if _, err := c.js.AddConsumer(stream, &nats.ConsumerConfig{
			Durable:       durable,
			AckPolicy:     nats.AckExplicitPolicy,
			DeliverPolicy: deliver,
			FilterSubject: topic,
			AckWait:       natsAckWait,
		}, nats.Context(ctx)); err != nil {
			return fmt.Errorf("add consumer %s: %w", durable, err)
		}
	}

	sub, err := c.js.PullSubscribe(topic, durable, nats.Bind(stream, durable))
	if err != nil {
		return fmt.Errorf("pull subscribe %s: %w", topic, err)
	}

	c.topic = topic
	c.sub = sub

	return nil
}

// Poll implements Consumer.
func (c *NATSConsumer) Poll(ctx context.Context, timeout time.Duration) (*Message, error) {
	if c.sub == nil {
		return nil, consumeError(c.topic, errors.New("not subscribed"))
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msgs, err := c.sub.Fetch(1, nats.Context(pollCtx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}

		return nil, consumeError(c.topic, err)
	}

	if len(msgs) == 0 {
		return nil, nil
	}

	m := msgs[0]
	location := ""
	if md, err := m.Metadata(); err == nil {
		location = natsLocation(md.Stream, md.Sequence.Stream)
	}

	return &Message{
		Topic:    c.topic,
		Key:      m.Header.Get(nats.MsgIdHdr),
		Payload:  m.Data,
		Location: location,
		ref:      m,
	}, nil
}

// Commit implements Consumer.
func (*NATSConsumer) Commit(ctx context.Context, msg *Message) error {
	m, ok := msg.ref.(*nats.Msg)
	if !ok {
		return fmt.Errorf("commit %s: message not produced by NATS consumer", msg.Location)
	}

	if err := m.AckSync(nats.Context(ctx)); err != nil {
		return fmt.Errorf("ack %s: %w", msg.Location, err)
	}

	return nil
}

// Close implements Consumer.
func (c *NATSConsumer) Close() error {
	var err error
	if c.sub != nil {
		err = c.sub.Unsubscribe()
	}
	c.conn.Close()

	return err
}

func ensureStream(js nats.JetStreamContext, topic string) (string, error) {
	name := natsName(topic)

	if _, err := js.StreamInfo(name); err == nil {
		return name, nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return "", err
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{topic},
		Storage:  nats.FileStorage,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return "", err
	}

	return name, nil
}

func natsName(s string) string {
	return natsNameReplacer.Replace(s)
}

func natsLocation(stream string, seq uint64) string {
	return fmt.Sprintf("%s:%d", stream, seq)
}
