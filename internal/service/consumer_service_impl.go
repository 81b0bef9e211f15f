package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jnst/event-relay/internal/broker"
	"github.com/jnst/event-relay/internal/buffer"
	"github.com/jnst/event-relay/internal/clock"
	"github.com/jnst/event-relay/internal/id"
	"github.com/jnst/event-relay/internal/model"
	"github.com/jnst/event-relay/internal/repository"
)

const (
	defaultPollTimeout    = 1 * time.Second
	defaultMessageTimeout = 5 * time.Second
	defaultStoreTimeout   = 3 * time.Second
	defaultCommitTimeout  = 3 * time.Second
	errorRetryDelay       = 1 * time.Second
)

// ConsumerOptions configures a consumer relay. Zero values select defaults.
type ConsumerOptions struct {
	Topic string
	// PollTimeout bounds each broker poll and therefore how long cancellation
	// can go unobserved.
	PollTimeout  time.Duration
	StoreTimeout time.Duration
	// CommitTimeout bounds the broker commit, separately from the store append.
	CommitTimeout time.Duration
	Clock         clock.Clock
	IDs           id.Generator
	Stats         *Stats
}

// ConsumerServiceImpl implements ConsumerService.
type ConsumerServiceImpl struct {
	consumer      broker.Consumer
	eventRepo     repository.EventRepository
	readBuffer    *buffer.Ring
	topic         string
	pollTimeout   time.Duration
	storeTimeout  time.Duration
	commitTimeout time.Duration
	clock         clock.Clock
	ids           id.Generator
	stats         *Stats
	state         atomic.Int32
}

// NewConsumerServiceImpl creates a new ConsumerService implementation. It owns
// consumer and closes it when Run returns.
func NewConsumerServiceImpl(
	consumer broker.Consumer,
	eventRepo repository.EventRepository,
	readBuffer *buffer.Ring,
	opts ConsumerOptions,
) *ConsumerServiceImpl {
	s := &ConsumerServiceImpl{
		consumer:      consumer,
		eventRepo:     eventRepo,
		readBuffer:    readBuffer,
		topic:         opts.Topic,
		pollTimeout:   opts.PollTimeout,
		storeTimeout:  opts.StoreTimeout,
		commitTimeout: opts.CommitTimeout,
		clock:         opts.Clock,
		ids:           opts.IDs,
		stats:         opts.Stats,
	}

	if s.pollTimeout <= 0 {
		s.pollTimeout = defaultPollTimeout
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = defaultStoreTimeout
	}
	if s.commitTimeout <= 0 {
		s.commitTimeout = defaultCommitTimeout
	}
	if s.clock == nil {
		s.clock = clock.NewMonotonic(nil)
	}
	if s.ids == nil {
		s.ids = id.UUID
	}
	if s.stats == nil {
		s.stats = NewStats()
	}

	return s
}

// State implements ConsumerService.
func (s *ConsumerServiceImpl) State() State {
	return State(s.state.Load())
}

// Run implements ConsumerService.
func (s *ConsumerServiceImpl) Run(ctx context.Context) error {
	s.setState(StateStarting)

	if err := s.consumer.Subscribe(ctx, s.topic); err != nil {
		s.stop()
		return fmt.Errorf("subscribe to %s: %w", s.topic, err)
	}
	defer s.stop()

	slog.Info("consumer relay started",
		slog.String("topic", s.topic),
		slog.Duration("poll_timeout", s.pollTimeout),
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		s.setState(StatePolling)
		msg, err := s.consumer.Poll(ctx, s.pollTimeout)

		switch {
		case ctx.Err() != nil:
			if msg != nil {
				slog.Warn("abandoning uncommitted message on shutdown",
					slog.String("topic", s.topic),
					slog.String("location", msg.Location),
				)
			}
			return nil
		case err != nil:
			s.setState(StateConsumeError)
			s.stats.consumeErrors.Add(1)
			slog.Error("error consuming messages",
				slog.String("topic", s.topic),
				slog.String("error", err.Error()),
			)
			s.wait(ctx, min(errorRetryDelay, s.pollTimeout))
		case msg == nil:
			s.setState(StateIdle)
		default:
			s.setState(StateDelivered)
			s.handle(ctx, msg)
		}
	}
}

// handle buffers, persists and commits one message. Per-message failures are
// logged and counted; they never stop the loop. The in-flight message is
// finished even if shutdown begins meanwhile, so both steps run detached from
// ctx, each under its own deadline.
func (s *ConsumerServiceImpl) handle(ctx context.Context, msg *broker.Message) {
	event, err := s.project(msg)
	if err != nil {
		s.stats.consumeErrors.Add(1)
		slog.Warn("discarding message",
			slog.String("topic", msg.Topic),
			slog.String("location", msg.Location),
			slog.String("error", err.Error()),
		)
		s.commit(ctx, msg)

		return
	}

	slog.Debug("received message",
		slog.String("topic", msg.Topic),
		slog.String("location", msg.Location),
		slog.String("event_id", event.ID),
	)

	s.readBuffer.Enqueue(event)
	s.stats.consumed.Add(1)

	s.persist(ctx, msg, &event)
	s.commit(ctx, msg)
}

func (s *ConsumerServiceImpl) persist(ctx context.Context, msg *broker.Message, event *model.Event) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	if _, err := s.eventRepo.Append(storeCtx, event); err != nil {
		s.stats.persistFailures.Add(1)
		slog.Error("consumed event not persisted",
			slog.String("topic", msg.Topic),
			slog.String("location", msg.Location),
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)

		return
	}

	s.stats.persisted.Add(1)
}

func (s *ConsumerServiceImpl) commit(ctx context.Context, msg *broker.Message) {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
	defer cancel()

	if err := s.consumer.Commit(commitCtx, msg); err != nil {
		s.stats.commitFailures.Add(1)
		slog.Error("failed to commit message",
			slog.String("topic", msg.Topic),
			slog.String("location", msg.Location),
			slog.String("error", err.Error()),
		)
	}
}

// project turns a broker message into an Event. The id is reused when the
// message carries one; createdAt is always assigned at consumption time.
func (s *ConsumerServiceImpl) project(msg *broker.Message) (model.Event, error) {
	eventID := msg.Key
	if eventID == "" {
		eventID = s.ids.New()
	}

	event, err := model.NewEvent(eventID, string(msg.Payload), s.clock.Now())
	if err != nil {
		return model.Event{}, err
	}

	return *event, nil
}

func (s *ConsumerServiceImpl) stop() {
	if err := s.consumer.Close(); err != nil {
		slog.Error("failed to close consumer",
			slog.String("topic", s.topic),
			slog.String("error", err.Error()),
		)
	}

	s.setState(StateStopped)
	slog.Info("consumer stopped", slog.String("topic", s.topic))
}

func (s *ConsumerServiceImpl) setState(state State) {
	s.state.Store(int32(state))
}

func (*ConsumerServiceImpl) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
