// Package model defines domain models and data structures.
package model

import (
	"strings"
	"time"
)

// Event is the unit of relay. It is immutable after creation.
type Event struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEvent creates an event after validating its content.
func NewEvent(id, content string, createdAt time.Time) (*Event, error) {
	if isBlank(content) {
		return nil, ErrEmptyContent
	}

	return &Event{
		ID:        id,
		Content:   content,
		CreatedAt: createdAt,
	}, nil
}

// SendEventParams represents parameters for relaying a new event.
type SendEventParams struct {
	Topic   string
	Content string
}

// Validate validates the send event parameters.
func (p *SendEventParams) Validate() error {
	if p.Topic == "" {
		return ErrEmptyTopic
	}

	if isBlank(p.Content) {
		return ErrEmptyContent
	}

	return nil
}

// WriteEventRequest is the body accepted by the write endpoint.
type WriteEventRequest struct {
	Content string `json:"content"`
}

// WriteEventResponse is returned by the write endpoint once the broker accepted the event.
type WriteEventResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
