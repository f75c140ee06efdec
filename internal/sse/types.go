package sse

import "github.com/dgnsrekt/zerogex/internal/gex"

// Snapshot is the first event a subscriber receives: the latest stored
// metrics for each requested symbol that has any.
type Snapshot struct {
	Timestamp int64            `json:"timestamp"`
	Sequence  uint64           `json:"sequence"`
	Metrics   []gex.GEXMetrics `json:"metrics"`
}

// Heartbeat is sent on every tick so idle subscribers can detect a dead
// stream.
type Heartbeat struct {
	Timestamp int64  `json:"timestamp"`
	Sequence  uint64 `json:"sequence"`
	Clients   int    `json:"clients"`
}
