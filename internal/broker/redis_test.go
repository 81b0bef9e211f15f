package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jnst/event-relay/internal/model"
)

func TestRedisGroupStartID(t *testing.T) {
	assert.Equal(t, "0", redisGroupStartID(OffsetEarliest))
	assert.Equal(t, "$", redisGroupStartID(OffsetLatest))
}

func TestIsBusyGroup(t *testing.T) {
	assert.True(t, isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")))
	assert.False(t, isBusyGroup(errors.New("ERR no such key")))
}

func TestRedisMessage(t *testing.T) {
	msg := redisMessage("data-events", rueidis.XRangeEntry{
		ID: "1700000000000-0",
		FieldValues: map[string]string{
			redisFieldPayload:   "hello",
			redisFieldEventID:   "evt-1",
			redisFieldCreatedAt: "2024-01-01T00:00:00Z",
		},
	})

	assert.Equal(t, "data-events", msg.Topic)
	assert.Equal(t, "hello", string(msg.Payload))
	assert.Equal(t, "evt-1", msg.Key)
	assert.Equal(t, "1700000000000-0", msg.Location)
}

func TestRedisMessageBarePayload(t *testing.T) {
	msg := redisMessage("data-events", rueidis.XRangeEntry{
		ID:          "1-0",
		FieldValues: map[string]string{redisFieldPayload: "only payload"},
	})

	assert.Empty(t, msg.Key)
	assert.Equal(t, "only payload", string(msg.Payload))
}

const (
	redisTestGroup    = "read-service-group"
	redisTestConsumer = "consumer-1"
)

func xreadReply(topic string, entries ...rueidis.RedisMessage) rueidis.RedisMessage {
	return mock.RedisArray(mock.RedisArray(mock.RedisString(topic), mock.RedisArray(entries...)))
}

func xentry(id string, fieldValues ...string) rueidis.RedisMessage {
	values := make([]rueidis.RedisMessage, 0, len(fieldValues))
	for _, v := range fieldValues {
		values = append(values, mock.RedisString(v))
	}

	return mock.RedisArray(mock.RedisString(id), mock.RedisArray(values...))
}

func xreadPending(cursor string) gomock.Matcher {
	return mock.Match("XREADGROUP", "GROUP", redisTestGroup, redisTestConsumer,
		"COUNT", "1", "STREAMS", testTopic, cursor)
}

func xreadNew() gomock.Matcher {
	return mock.Match("XREADGROUP", "GROUP", redisTestGroup, redisTestConsumer,
		"COUNT", "1", "BLOCK", "1000", "STREAMS", testTopic, ">")
}

func newMockRedisConsumer(t *testing.T, reset OffsetReset) (*RedisConsumer, *mock.Client) {
	t.Helper()

	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)

	return NewRedisConsumer(client, redisTestGroup, redisTestConsumer, reset), client
}

func TestRedisConsumerFreshSubscribe(t *testing.T) {
	ctx := context.Background()
	c, client := newMockRedisConsumer(t, OffsetEarliest)

	gomock.InOrder(
		client.EXPECT().
			Do(gomock.Any(), mock.Match("XGROUP", "CREATE", testTopic, redisTestGroup, "0", "MKSTREAM")).
			Return(mock.Result(mock.RedisString("OK"))),
		client.EXPECT().
			Do(gomock.Any(), xreadPending("0")).
			Return(mock.Result(xreadReply(testTopic))),
		client.EXPECT().
			Do(gomock.Any(), xreadNew()).
			Return(mock.Result(xreadReply(testTopic, xentry("1-0", redisFieldPayload, "hello", redisFieldEventID, "evt-1")))),
		client.EXPECT().
			Do(gomock.Any(), xreadNew()).
			Return(mock.Result(mock.RedisNil())),
	)

	require.NoError(t, c.Subscribe(ctx, testTopic))

	msg, err := c.Poll(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hello", string(msg.Payload))
	assert.Equal(t, "evt-1", msg.Key)
	assert.Equal(t, "1-0", msg.Location)

	msg, err = c.Poll(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestRedisConsumerSubscribeToleratesExistingGroup(t *testing.T) {
	c, client := newMockRedisConsumer(t, OffsetLatest)

	client.EXPECT().
		Do(gomock.Any(), mock.Match("XGROUP", "CREATE", testTopic, redisTestGroup, "$", "MKSTREAM")).
		Return(mock.Result(mock.RedisError("BUSYGROUP Consumer Group name already exists")))

	assert.NoError(t, c.Subscribe(context.Background(), testTopic))
}

func TestRedisConsumerSubscribeFailure(t *testing.T) {
	c, client := newMockRedisConsumer(t, OffsetEarliest)

	client.EXPECT().
		Do(gomock.Any(), mock.Match("XGROUP", "CREATE", testTopic, redisTestGroup, "0", "MKSTREAM")).
		Return(mock.Result(mock.RedisError("NOAUTH Authentication required.")))

	err := c.Subscribe(context.Background(), testTopic)
	assert.ErrorContains(t, err, "NOAUTH")
}

func TestRedisConsumerReplaysPendingBeforeNew(t *testing.T) {
	ctx := context.Background()
	c, client := newMockRedisConsumer(t, OffsetEarliest)

	gomock.InOrder(
		client.EXPECT().
			Do(gomock.Any(), mock.Match("XGROUP", "CREATE", testTopic, redisTestGroup, "0", "MKSTREAM")).
			Return(mock.Result(mock.RedisError("BUSYGROUP Consumer Group name already exists"))),
		client.EXPECT().
			Do(gomock.Any(), xreadPending("0")).
			Return(mock.Result(xreadReply(testTopic, xentry("1-0", redisFieldPayload, "pending-1")))),
		client.EXPECT().
			Do(gomock.Any(), xreadPending("1-0")).
			Return(mock.Result(xreadReply(testTopic, xentry("2-0", redisFieldPayload, "pending-2")))),
		client.EXPECT().
			Do(gomock.Any(), xreadPending("2-0")).
			Return(mock.Result(xreadReply(testTopic))),
		client.EXPECT().
			Do(gomock.Any(), xreadNew()).
			Return(mock.Result(xreadReply(testTopic, xentry("3-0", redisFieldPayload, "new")))),
	)

	require.NoError(t, c.Subscribe(ctx, testTopic))

	var got []string
	for range 3 {
		msg, err := c.Poll(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		got = append(got, string(msg.Payload))
	}

	assert.Equal(t, []string{"pending-1", "pending-2", "new"}, got)
}

func TestRedisConsumerAcksTrimmedPendingEntry(t *testing.T) {
	ctx := context.Background()
	c, client := newMockRedisConsumer(t, OffsetEarliest)

	trimmed := mock.RedisArray(mock.RedisString("1-0"), mock.RedisNil())

	gomock.InOrder(
		client.EXPECT().
			Do(gomock.Any(), mock.Match("XGROUP", "CREATE", testTopic, redisTestGroup, "0", "MKSTREAM")).
			Return(mock.Result(mock.RedisString("OK"))),
		client.EXPECT().
			Do(gomock.Any(), xreadPending("0")).
			Return(mock.Result(xreadReply(testTopic, trimmed))),
		client.EXPECT().
			Do(gomock.Any(), mock.Match("XACK", testTopic, redisTestGroup, "1-0")).
			Return(mock.Result(mock.RedisInt64(1))),
		client.EXPECT().
			Do(gomock.Any(), xreadPending("1-0")).
			Return(mock.Result(xreadReply(testTopic, xentry("2-0", redisFieldPayload, "survivor")))),
	)

	require.NoError(t, c.Subscribe(ctx, testTopic))

	msg, err := c.Poll(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "survivor", string(msg.Payload))
	assert.Equal(t, "2-0", msg.Location)
}

func TestRedisConsumerCommit(t *testing.T) {
	ctx := context.Background()
	c, client := newMockRedisConsumer(t, OffsetEarliest)
	c.topic = testTopic

	gomock.InOrder(
		client.EXPECT().
			Do(gomock.Any(), mock.Match("XACK", testTopic, redisTestGroup, "5-0")).
			Return(mock.Result(mock.RedisInt64(1))),
		client.EXPECT().
			Do(gomock.Any(), mock.Match("XACK", testTopic, redisTestGroup, "6-0")).
			Return(mock.ErrorResult(errors.New("connection reset by peer"))),
	)

	require.NoError(t, c.Commit(ctx, &Message{Location: "5-0"}))
	assert.ErrorContains(t, c.Commit(ctx, &Message{Location: "6-0"}), "6-0")
}

func TestRedisConsumerPollBeforeSubscribe(t *testing.T) {
	c, _ := newMockRedisConsumer(t, OffsetEarliest)

	_, err := c.Poll(context.Background(), time.Second)
	assert.ErrorIs(t, err, model.ErrConsume)
}

func TestRedisPublisherPublish(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	p := NewRedisPublisher(client)

	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	env := &Envelope{Key: "evt-1", Payload: []byte("hello"), Timestamp: ts}

	client.EXPECT().
		Do(gomock.Any(), mock.Match("XADD", testTopic, "*",
			redisFieldPayload, "hello",
			redisFieldEventID, "evt-1",
			redisFieldCreatedAt, ts.Format(redisTimeFormat))).
		Return(mock.Result(mock.RedisString("1700000000000-0")))

	delivery, err := p.Publish(context.Background(), testTopic, env)
	require.NoError(t, err)
	assert.Equal(t, testTopic, delivery.Topic)
	assert.Equal(t, "1700000000000-0", delivery.Location)
}

func TestRedisPublisherPublishFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewClient(ctrl)
	p := NewRedisPublisher(client)

	client.EXPECT().
		Do(gomock.Any(), gomock.Any()).
		Return(mock.ErrorResult(errors.New("dial tcp 127.0.0.1:6379: connection refused")))

	_, err := p.Publish(context.Background(), testTopic, &Envelope{Key: "evt-1", Payload: []byte("hello")})
	assert.ErrorIs(t, err, model.ErrPublish)
	assert.ErrorContains(t, err, "connection refused")
}
