package session

import (
	"sync"
	"sync/atomic"
)

// Counter names recorded by a Coordinator. The dashboard health endpoint
// reports them summed over every session.
const (
	MetricRefreshStarted   = "session.refresh.started"
	MetricRefreshSucceeded = "session.refresh.succeeded"
	MetricRefreshFailed    = "session.refresh.failed"
	MetricRequestQueued    = "session.request.queued"
	MetricSessionExpired   = "session.expired"
)

// MetricsRecorder receives refresh lifecycle events.
type MetricsRecorder interface {
	Increment(event string)
}

// CounterMetrics counts refresh lifecycle events in process. One instance is
// shared by all coordinators of a dashboard, so increments take only a read
// lock once a counter exists.
type CounterMetrics struct {
	mutex    sync.RWMutex
	counters map[string]*atomic.Int64
}

// NewCounterMetrics returns an empty CounterMetrics.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counters: make(map[string]*atomic.Int64)}
}

// Increment adds one to event.
func (recorder *CounterMetrics) Increment(event string) {
	recorder.counter(event).Add(1)
}

// Count reports how often event was recorded.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.RLock()
	defer recorder.mutex.RUnlock()
	if counter, ok := recorder.counters[event]; ok {
		return counter.Load()
	}
	return 0
}

// Snapshot copies every counter recorded so far.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.RLock()
	defer recorder.mutex.RUnlock()
	snapshot := make(map[string]int64, len(recorder.counters))
	for event, counter := range recorder.counters {
		snapshot[event] = counter.Load()
	}
	return snapshot
}

func (recorder *CounterMetrics) counter(event string) *atomic.Int64 {
	recorder.mutex.RLock()
	counter, ok := recorder.counters[event]
	recorder.mutex.RUnlock()
	if ok {
		return counter
	}

	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	if counter, ok = recorder.counters[event]; !ok {
		counter = new(atomic.Int64)
		recorder.counters[event] = counter
	}
	return counter
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}
