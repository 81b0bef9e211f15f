package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when the caller passes a payload the relay cannot accept.
	// No broker or store interaction happens for such calls.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrEmptyContent is returned when event content is empty or whitespace only.
	ErrEmptyContent = fmt.Errorf("%w: content is required", ErrInvalidArgument)
	// ErrEmptyTopic is returned when no topic is given for a send.
	ErrEmptyTopic = fmt.Errorf("%w: topic is required", ErrInvalidArgument)

	// ErrPublish is returned when the broker could not accept a message (unreachable, timeout, rejected).
	ErrPublish = errors.New("publish failed")
	// ErrConsume is returned by a broker consumer for retryable consume-level failures.
	ErrConsume = errors.New("consume failed")
	// ErrPersistence is returned when the durable store could not record an event.
	ErrPersistence = errors.New("persistence failed")
)
