package model

import "time"

// Receipt acknowledges a producer send. Location is the broker-assigned position
// token and is only used for logging and acknowledgement.
type Receipt struct {
	EventID   string    `json:"eventId"`
	CreatedAt time.Time `json:"createdAt"`
	Topic     string    `json:"topic"`
	Location  string    `json:"location"`
	RecordID  int64     `json:"recordId,omitempty"`
	// Persisted is false when the store append failed after a successful publish.
	Persisted bool `json:"persisted"`
}
