// Package service provides the producer and consumer relays.
package service

import (
	"context"

	"github.com/jnst/event-relay/internal/model"
)

// ProducerService publishes events to the broker and records them in the store.
type ProducerService interface {
	// Send publishes content to topic, then appends the event to the store.
	//
	// Publish happens-before persistence. An invalid payload returns
	// model.ErrInvalidArgument without touching the broker. A broker failure
	// returns model.ErrPublish and nothing is stored. A store failure after a
	// successful publish is logged and counted but Send still succeeds with
	// Receipt.Persisted == false: the broker has already delivered the event
	// and cannot take it back (at-least-once dual write).
	Send(ctx context.Context, topic, content string) (*model.Receipt, error)
}

// ConsumerService drains the broker into the read buffer and the store.
type ConsumerService interface {
	// Run blocks until ctx is cancelled. It returns an error only when the
	// subscription cannot be established.
	Run(ctx context.Context) error
	// State reports the current loop state.
	State() State
}
