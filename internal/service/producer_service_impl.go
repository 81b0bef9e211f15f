package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jnst/event-relay/internal/broker"
	"github.com/jnst/event-relay/internal/clock"
	"github.com/jnst/event-relay/internal/id"
	"github.com/jnst/event-relay/internal/model"
	"github.com/jnst/event-relay/internal/repository"
)

// ProducerOptions configures a producer relay. Zero values select defaults.
type ProducerOptions struct {
	// MessageTimeout bounds the whole publish.
	MessageTimeout time.Duration
	// StoreTimeout bounds the store append.
	StoreTimeout time.Duration
	Clock        clock.Clock
	IDs          id.Generator
	Stats        *Stats
}

// ProducerServiceImpl implements ProducerService.
type ProducerServiceImpl struct {
	publisher      broker.Publisher
	eventRepo      repository.EventRepository
	messageTimeout time.Duration
	storeTimeout   time.Duration
	clock          clock.Clock
	ids            id.Generator
	stats          *Stats
}

// NewProducerServiceImpl creates a new ProducerService implementation.
func NewProducerServiceImpl(
	publisher broker.Publisher,
	eventRepo repository.EventRepository,
	opts ProducerOptions,
) *ProducerServiceImpl {
	s := &ProducerServiceImpl{
		publisher:      publisher,
		eventRepo:      eventRepo,
		messageTimeout: opts.MessageTimeout,
		storeTimeout:   opts.StoreTimeout,
		clock:          opts.Clock,
		ids:            opts.IDs,
		stats:          opts.Stats,
	}

	if s.messageTimeout <= 0 {
		s.messageTimeout = defaultMessageTimeout
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = defaultStoreTimeout
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

// Send implements ProducerService.
func (s *ProducerServiceImpl) Send(ctx context.Context, topic, content string) (*model.Receipt, error) {
	params := &model.SendEventParams{Topic: topic, Content: content}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	event, err := model.NewEvent(s.ids.New(), content, s.clock.Now())
	if err != nil {
		return nil, err
	}

	delivery, err := s.publish(ctx, topic, event)
	if err != nil {
		s.stats.publishFailures.Add(1)
		slog.Error("failed to publish event",
			slog.String("topic", topic),
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	s.stats.published.Add(1)
	slog.Info("delivered event",
		slog.String("topic", delivery.Topic),
		slog.String("location", delivery.Location),
		slog.String("event_id", event.ID),
	)

	receipt := &model.Receipt{
		EventID:   event.ID,
		CreatedAt: event.CreatedAt,
		Topic:     delivery.Topic,
		Location:  delivery.Location,
	}

	// The request may be cancelled once the broker has the event; the store
	// append must still be attempted.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	recordID, err := s.eventRepo.Append(storeCtx, event)
	if err != nil {
		s.stats.persistFailures.Add(1)
		slog.Error("event published but not persisted",
			slog.String("topic", delivery.Topic),
			slog.String("location", delivery.Location),
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)

		return receipt, nil
	}

	s.stats.persisted.Add(1)
	receipt.RecordID = recordID
	receipt.Persisted = true

	return receipt, nil
}

func (s *ProducerServiceImpl) publish(ctx context.Context, topic string, event *model.Event) (*broker.Delivery, error) {
	pubCtx, cancel := context.WithTimeout(ctx, s.messageTimeout)
	defer cancel()

	delivery, err := s.publisher.Publish(pubCtx, topic, broker.EnvelopeFor(event))
	if err != nil {
		if !errors.Is(err, model.ErrPublish) {
			err = fmt.Errorf("%w: topic %s: %w", model.ErrPublish, topic, err)
		}

		return nil, err
	}

	return delivery, nil
}
