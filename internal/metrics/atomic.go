package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// AtomicMetrics keeps counters in memory. Snapshot is used by tests and the CLI.
type AtomicMetrics struct {
	mu       sync.Mutex
	counters map[string]uint64

	discoveries   atomic.Uint64
	discoveryOK   atomic.Uint64
	discoveryFail atomic.Uint64
	workers       atomic.Int64
}

func NewAtomicMetrics() *AtomicMetrics {
	return &AtomicMetrics{counters: make(map[string]uint64)}
}

func (m *AtomicMetrics) inc(key string) {
	m.mu.Lock()
	m.counters[key]++
	m.mu.Unlock()
}

func (m *AtomicMetrics) IncMessaging(event string) { m.inc("messaging_" + event) }

func (m *AtomicMetrics) IncDispatch(strategy string, ok bool) {
	if ok {
		m.inc("dispatch_" + strategy + "_ok")
	} else {
		m.inc("dispatch_" + strategy + "_fail")
	}
}

func (m *AtomicMetrics) IncForward(result string) { m.inc("forward_" + result) }

func (m *AtomicMetrics) IncStored(priority string) { m.inc("stored_" + priority) }

func (m *AtomicMetrics) ObserveDiscovery(duration time.Duration, ok bool) {
	m.discoveries.Add(1)
	if ok {
		m.discoveryOK.Add(1)
	} else {
		m.discoveryFail.Add(1)
	}
}

func (m *AtomicMetrics) SetActiveWorkers(n int) { m.workers.Store(int64(n)) }

func (m *AtomicMetrics) Get(key string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key]
}

func (m *AtomicMetrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	out := make(map[string]uint64, len(m.counters)+4)
	for k, v := range m.counters {
		out[k] = v
	}
	m.mu.Unlock()
	out["discoveries"] = m.discoveries.Load()
	out["discovery_ok"] = m.discoveryOK.Load()
	out["discovery_fail"] = m.discoveryFail.Load()
	out["active_workers"] = uint64(m.workers.Load())
	return out
}
