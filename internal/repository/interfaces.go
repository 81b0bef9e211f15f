// Package repository provides data access interfaces and implementations.
package repository

import (
	"context"

	"github.com/jnst/event-relay/internal/model"
)

// DefaultListLimit and MaxListLimit bound List.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// EventRepository is the durable store gateway: an append-only record of relayed events.
type EventRepository interface {
	// Append records event and returns its record id. Appending an event whose
	// id is already recorded returns the existing record id, so replays are harmless.
	// Failures wrap model.ErrPersistence.
	Append(ctx context.Context, event *model.Event) (int64, error)
	// List returns up to limit events, newest first.
	List(ctx context.Context, limit int) ([]*model.Event, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}

	return min(limit, MaxListLimit)
}
