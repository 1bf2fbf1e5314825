// ABOUTME: Atomic counters describing an agent's message and barrier activity.
// ABOUTME: Snapshot returns a consistent-enough copy for logging and health output.

package agent

import "sync/atomic"

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Published         int64
	Received          int64
	DuplicatesDropped int64
	Rejected          int64
	HandlerDispatches int64
	HandlerErrors     int64
	StepsAdvanced     int64
	StepsForced       int64
}

// Metrics counts agent activity.
type Metrics struct {
	published         atomic.Int64
	received          atomic.Int64
	duplicatesDropped atomic.Int64
	rejected          atomic.Int64
	handlerDispatches atomic.Int64
	handlerErrors     atomic.Int64
	stepsAdvanced     atomic.Int64
	stepsForced       atomic.Int64
}

// NewMetrics creates zeroed counters.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordPublished()        { m.published.Add(1) }
func (m *Metrics) RecordReceived()         { m.received.Add(1) }
func (m *Metrics) RecordDuplicateDropped() { m.duplicatesDropped.Add(1) }
func (m *Metrics) RecordRejected()         { m.rejected.Add(1) }
func (m *Metrics) RecordHandlerDispatch()  { m.handlerDispatches.Add(1) }
func (m *Metrics) RecordHandlerError()     { m.handlerErrors.Add(1) }
func (m *Metrics) RecordStepAdvanced()     { m.stepsAdvanced.Add(1) }
func (m *Metrics) RecordStepForced()       { m.stepsForced.Add(1) }

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Published:         m.published.Load(),
		Received:          m.received.Load(),
		DuplicatesDropped: m.duplicatesDropped.Load(),
		Rejected:          m.rejected.Load(),
		HandlerDispatches: m.handlerDispatches.Load(),
		HandlerErrors:     m.handlerErrors.Load(),
		StepsAdvanced:     m.stepsAdvanced.Load(),
		StepsForced:       m.stepsForced.Load(),
	}
}
