package osp

import "time"

// now is overridden in tests to provide deterministic timings.
var now = time.Now

// WalkMetrics aggregates measurements of one walk.
type WalkMetrics struct {
	StartedAt    time.Time
	CompletedAt  time.Time
	Duration     time.Duration
	Visits       int
	Skipped      int
	AbilitiesRun int
	Reports      int
}

func (m *WalkMetrics) start() {
	m.StartedAt = now()
}

func (m *WalkMetrics) finish() {
	m.CompletedAt = now()
	m.Duration = m.CompletedAt.Sub(m.StartedAt)
}
