package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-pipeline counters.
type Metrics struct {
	TaskID     string
	PipelineID int

	Received     atomic.Uint64
	Decoded      atomic.Uint64
	DecodeErrors atomic.Uint64
	Parsed       atomic.Uint64
	Skipped      atomic.Uint64
	ParseErrors  atomic.Uint64
	Processed    atomic.Uint64
	Dropped      atomic.Uint64
	Emitted      atomic.Uint64
}

// Stats is a point-in-time copy of Metrics.
type Stats struct {
	Received     uint64
	Decoded      uint64
	DecodeErrors uint64
	Parsed       uint64
	Skipped      uint64
	ParseErrors  uint64
	Processed    uint64
	Dropped      uint64
	Emitted      uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics(taskID string, pipelineID int) *Metrics {
	return &Metrics{
		TaskID:     taskID,
		PipelineID: pipelineID,
	}
}

// Snapshot loads every counter.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		Received:     m.Received.Load(),
		Decoded:      m.Decoded.Load(),
		DecodeErrors: m.DecodeErrors.Load(),
		Parsed:       m.Parsed.Load(),
		Skipped:      m.Skipped.Load(),
		ParseErrors:  m.ParseErrors.Load(),
		Processed:    m.Processed.Load(),
		Dropped:      m.Dropped.Load(),
		Emitted:      m.Emitted.Load(),
	}
}

// Add sums two snapshots.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Received:     s.Received + o.Received,
		Decoded:      s.Decoded + o.Decoded,
		DecodeErrors: s.DecodeErrors + o.DecodeErrors,
		Parsed:       s.Parsed + o.Parsed,
		Skipped:      s.Skipped + o.Skipped,
		ParseErrors:  s.ParseErrors + o.ParseErrors,
		Processed:    s.Processed + o.Processed,
		Dropped:      s.Dropped + o.Dropped,
		Emitted:      s.Emitted + o.Emitted,
	}
}
