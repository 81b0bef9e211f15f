package service

import "sync/atomic"

// Stats counts relay outcomes. Both relays may share one Stats.
type Stats struct {
	published       atomic.Int64
	publishFailures atomic.Int64
	persisted       atomic.Int64
	persistFailures atomic.Int64
	consumed        atomic.Int64
	consumeErrors   atomic.Int64
	commitFailures  atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Published       int64 `json:"published"`
	PublishFailures int64 `json:"publishFailures"`
	Persisted       int64 `json:"persisted"`
	PersistFailures int64 `json:"persistFailures"`
	Consumed        int64 `json:"consumed"`
	ConsumeErrors   int64 `json:"consumeErrors"`
	CommitFailures  int64 `json:"commitFailures"`
}

// NewStats creates zeroed counters.
func NewStats() *Stats {
	return &Stats{}
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Published:       s.published.Load(),
		PublishFailures: s.publishFailures.Load(),
		Persisted:       s.persisted.Load(),
		PersistFailures: s.persistFailures.Load(),
		Consumed:        s.consumed.Load(),
		ConsumeErrors:   s.consumeErrors.Load(),
		CommitFailures:  s.commitFailures.Load(),
	}
}
