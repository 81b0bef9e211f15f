package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jnst/event-relay/internal/broker"
	"github.com/jnst/event-relay/internal/model"
	"github.com/jnst/event-relay/internal/repository"
)

var errStoreDown = errors.New("store unreachable")

// flakyRepository fails appends for the listed contents and records the rest in memory.
type flakyRepository struct {
	*repository.MemoryEventRepository

	mu       sync.Mutex
	fail     map[string]bool
	failAll  bool
	attempts int
}

func newFlakyRepository(failContents ...string) *flakyRepository {
	fail := make(map[string]bool, len(failContents))
	for _, c := range failContents {
		fail[c] = true
	}

	return &flakyRepository{
		MemoryEventRepository: repository.NewMemoryEventRepository(),
		fail:                  fail,
	}
}

func (r *flakyRepository) Append(ctx context.Context, event *model.Event) (int64, error) {
	r.mu.Lock()
	r.attempts++
	fail := r.failAll || r.fail[event.Content]
	r.mu.Unlock()

	if fail {
		return 0, fmt.Errorf("%w: %w", model.ErrPersistence, errStoreDown)
	}

	return r.MemoryEventRepository.Append(ctx, event)
}

func (r *flakyRepository) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.attempts
}

// hangingRepository blocks every append until its context is done.
type hangingRepository struct {
	*repository.MemoryEventRepository
}

func (hangingRepository) Append(ctx context.Context, _ *model.Event) (int64, error) {
	<-ctx.Done()
	return 0, fmt.Errorf("%w: %w", model.ErrPersistence, ctx.Err())
}

// stubPublisher returns err, or a fixed delivery. hook runs before returning.
type stubPublisher struct {
	mu    sync.Mutex
	calls int
	err   error
	hook  func(ctx context.Context)
}

func (p *stubPublisher) Publish(ctx context.Context, topic string, _ *broker.Envelope) (*broker.Delivery, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.hook != nil {
		p.hook(ctx)
	}

	if p.err != nil {
		return nil, p.err
	}

	return &broker.Delivery{Topic: topic, Location: topic + ":7"}, nil
}

func (*stubPublisher) Close() error { return nil }

func (p *stubPublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.calls
}

type pollStep struct {
	msg *broker.Message
	err error
}

// scriptedConsumer replays steps, then idles. With ignoreCancel set, an idle
// poll waits the full timeout regardless of ctx, like a broker client that only
// honours its own poll bound.
type scriptedConsumer struct {
	mu           sync.Mutex
	steps        []pollStep
	subscribeErr error
	ignoreCancel bool
	committed    []string
	closed       bool
}

func (c *scriptedConsumer) Subscribe(context.Context, string) error {
	return c.subscribeErr
}

func (c *scriptedConsumer) Poll(ctx context.Context, timeout time.Duration) (*broker.Message, error) {
	c.mu.Lock()
	if len(c.steps) > 0 {
		step := c.steps[0]
		c.steps = c.steps[1:]
		c.mu.Unlock()

		return step.msg, step.err
	}
	c.mu.Unlock()

	if c.ignoreCancel {
		time.Sleep(timeout)
		return nil, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (c *scriptedConsumer) Commit(ctx context.Context, msg *broker.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.committed = append(c.committed, msg.Location)

	return nil
}

func (c *scriptedConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return nil
}

func (c *scriptedConsumer) Committed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.committed...)
}

func (c *scriptedConsumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// sequenceIDs yields id-1, id-2, ...
type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (g *sequenceIDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.n++

	return fmt.Sprintf("id-%d", g.n)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
