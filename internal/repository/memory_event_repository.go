package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/jnst/event-relay/internal/model"
)

// MemoryEventRepository implements EventRepository in process memory.
type MemoryEventRepository struct {
	mu      sync.RWMutex
	events  []model.Event
	byEvent map[string]int64
}

// NewMemoryEventRepository creates an empty in-memory repository.
func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{byEvent: make(map[string]int64)}
}

var _ EventRepository = (*MemoryEventRepository)(nil)

// Append implements EventRepository.
func (r *MemoryEventRepository) Append(ctx context.Context, event *model.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: append event %s: %w", model.ErrPersistence, event.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byEvent[event.ID]; ok {
		return id, nil
	}

	r.events = append(r.events, *event)
	id := int64(len(r.events))
	r.byEvent[event.ID] = id

	return id, nil
}

// List implements EventRepository.
func (r *MemoryEventRepository) List(ctx context.Context, limit int) ([]*model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: list events: %w", model.ErrPersistence, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := min(normalizeLimit(limit), len(r.events))
	out := make([]*model.Event, 0, n)
	for i := len(r.events) - 1; i >= len(r.events)-n; i-- {
		event := r.events[i]
		out = append(out, &event)
	}

	return out, nil
}

// Len returns the number of recorded events.
func (r *MemoryEventRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.events)
}
