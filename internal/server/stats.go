package server

import (
	"time"

	"go.uber.org/atomic"
)

// Stats tracks server-level counters, safe across the front-end goroutines.
type Stats struct {
	started time.Time

	ConnectionsTotal  atomic.Int64
	ConnectionsActive atomic.Int64
	QueriesTotal      atomic.Int64
	ErrorsTotal       atomic.Int64
	TimeoutsTotal     atomic.Int64
}

func NewStats() *Stats {
	return &Stats{started: time.Now()}
}

func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"type":              "stats",
		"uptimeSeconds":     int64(time.Since(s.started).Seconds()),
		"connectionsTotal":  s.ConnectionsTotal.Load(),
		"connectionsActive": s.ConnectionsActive.Load(),
		"queriesTotal":      s.QueriesTotal.Load(),
		"errorsTotal":       s.ErrorsTotal.Load(),
		"timeoutsTotal":     s.TimeoutsTotal.Load(),
	}
}
