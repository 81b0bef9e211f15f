package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/event-relay/internal/model"
)

const (
	appendEventSQL = `INSERT INTO events (id, content, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
RETURNING record_id`

	listEventsSQL = `SELECT id, content, created_at
FROM events
ORDER BY record_id DESC
LIMIT $1`
)

// dbtx is the subset of *pgxpool.Pool used by the repository.
type dbtx interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// EventRepositoryImpl implements EventRepository using PostgreSQL.
type EventRepositoryImpl struct {
	db dbtx
}

// NewEventRepositoryImpl creates a new EventRepository implementation. The pool
// is shared for the lifetime of the process and closed by the caller.
func NewEventRepositoryImpl(pool *pgxpool.Pool) EventRepository {
	return &EventRepositoryImpl{db: pool}
}

// Append implements EventRepository.
func (r *EventRepositoryImpl) Append(ctx context.Context, event *model.Event) (int64, error) {
	var recordID int64

	err := r.db.QueryRow(ctx, appendEventSQL, event.ID, event.Content, event.CreatedAt).Scan(&recordID)
	if err != nil {
		return 0, fmt.Errorf("%w: append event %s: %w", model.ErrPersistence, event.ID, err)
	}

	return recordID, nil
}

// List implements EventRepository.
func (r *EventRepositoryImpl) List(ctx context.Context, limit int) ([]*model.Event, error) {
	rows, err := r.db.Query(ctx, listEventsSQL, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: list events: %w", model.ErrPersistence, err)
	}
	defer rows.Close()

	var events []*model.Event

	for rows.Next() {
		var event model.Event
		if err := rows.Scan(&event.ID, &event.Content, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan event: %w", model.ErrPersistence, err)
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list events: %w", model.ErrPersistence, err)
	}

	return events, nil
}
