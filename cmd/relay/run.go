package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/jnst/event-relay/internal/broker"
	"github.com/jnst/event-relay/internal/buffer"
	"github.com/jnst/event-relay/internal/clock"
	"github.com/jnst/event-relay/internal/config"
	"github.com/jnst/event-relay/internal/repository"
	"github.com/jnst/event-relay/internal/server"
	"github.com/jnst/event-relay/internal/service"
)

const readHeaderTimeout = 10 * time.Second

type role uint8

const (
	roleWriter role = 1 << iota
	roleReader
)

func (r role) String() string {
	switch r {
	case roleWriter:
		return "writer"
	case roleReader:
		return "reader"
	case roleWriter | roleReader:
		return "serve"
	default:
		return "none"
	}
}

func run(ctx context.Context, cfg *config.Config, roles role) error {
	if cfg.Broker == config.BrokerMemory && roles != roleWriter|roleReader {
		return fmt.Errorf("BROKER=%s requires the serve command", config.BrokerMemory)
	}

	eventRepo, closeStore, err := setupStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	brokers, err := setupBroker(cfg, roles)
	if err != nil {
		return err
	}

	stats := service.NewStats()
	relayClock := clock.NewMonotonic(nil)
	opts := server.Options{
		EventRepo: eventRepo,
		Stats:     stats,
		Topic:     cfg.Topic,
	}

	if brokers.publisher != nil {
		defer func() {
			if err := brokers.publisher.Close(); err != nil {
				slog.Warn("failed to close publisher", slog.String("error", err.Error()))
			}
		}()

		opts.Producer = service.NewProducerServiceImpl(brokers.publisher, eventRepo, service.ProducerOptions{
			MessageTimeout: cfg.MessageTimeout,
			StoreTimeout:   cfg.StoreTimeout,
			Clock:          relayClock,
			Stats:          stats,
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	if brokers.consumer != nil {
		opts.ReadBuffer = buffer.New(cfg.BufferCapacity)
		consumerSvc := service.NewConsumerServiceImpl(brokers.consumer, eventRepo, opts.ReadBuffer, service.ConsumerOptions{
			Topic:         cfg.Topic,
			PollTimeout:   cfg.PollTimeout,
			StoreTimeout:  cfg.StoreTimeout,
			CommitTimeout: cfg.RequestTimeout,
			Clock:         relayClock,
			Stats:         stats,
		})

		g.Go(func() error {
			return consumerSvc.Run(gctx)
		})
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewAPIServer(opts).Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		slog.Info("starting API server",
			slog.String("service", roles.String()),
			slog.String("port", cfg.Port),
			slog.String("broker", cfg.Broker),
			slog.String("store", cfg.Store),
			slog.String("topic", cfg.Topic),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}

		return nil
	})

	return g.Wait()
}

func setupStore(ctx context.Context, cfg *config.Config) (repository.EventRepository, func(), error) {
	if cfg.Store == config.StoreMemory {
		slog.Warn("using in-memory store, events are lost on exit")
		return repository.NewMemoryEventRepository(), func() {}, nil
	}

	if cfg.MigrateOnStart {
		if err := repository.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return repository.NewEventRepositoryImpl(pool), pool.Close, nil
}

type brokerHandles struct {
	publisher broker.Publisher
	consumer  broker.Consumer
}

// setupBroker creates one publisher and one consumer connection per role.
func setupBroker(cfg *config.Config, roles role) (*brokerHandles, error) {
	reset, err := broker.ParseOffsetReset(cfg.OffsetReset)
	if err != nil {
		return nil, err
	}

	h := &brokerHandles{}

	switch cfg.Broker {
	case config.BrokerMemory:
		mem := broker.NewMemoryBroker()
		h.publisher = mem
		h.consumer = mem.NewConsumer(cfg.ConsumerGroup, reset)

	case config.BrokerRedis:
		if roles&roleWriter != 0 {
			client, err := broker.NewRedisClient(cfg.RedisAddr, cfg.RequestTimeout)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to Redis: %w", err)
			}
			h.publisher = broker.NewRedisPublisher(client)
		}

		if roles&roleReader != 0 {
			client, err := broker.NewRedisClient(cfg.RedisAddr, cfg.RequestTimeout)
			if err != nil {
				h.closePublisher()
				return nil, fmt.Errorf("failed to connect to Redis: %w", err)
			}
			h.consumer = broker.NewRedisConsumer(client, cfg.ConsumerGroup, cfg.ConsumerName, reset)
		}

	case config.BrokerNATS:
		if roles&roleWriter != 0 {
			nc, err := broker.ConnectNATS(cfg.NATSURL, cfg.RequestTimeout)
			if err != nil {
				return nil, err
			}

			publisher, err := broker.NewNATSPublisher(nc, cfg.RequestTimeout)
			if err != nil {
				nc.Close()
				return nil, err
			}
			h.publisher = publisher
		}

		if roles&roleReader != 0 {
			nc, err := broker.ConnectNATS(cfg.NATSURL, cfg.RequestTimeout)
			if err != nil {
				h.closePublisher()
				return nil, err
			}

			consumer, err := broker.NewNATSConsumer(nc, cfg.ConsumerGroup, reset)
			if err != nil {
				nc.Close()
				h.closePublisher()
				return nil, err
			}
			h.consumer = consumer
		}

	default:
		return nil, fmt.Errorf("unsupported broker %q", cfg.Broker)
	}

	return h, nil
}

func (h *brokerHandles) closePublisher() {
	if h.publisher != nil {
		_ = h.publisher.Close()
	}
}
