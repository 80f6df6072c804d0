package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAtomicMetrics_Snapshot(t *testing.T) {
	m := NewAtomicMetrics()
	m.IncMessaging(EventSent)
	m.IncMessaging(EventSent)
	m.IncDispatch("neighbours", true)
	m.IncForward(ForwardSelfSource)
	m.ObserveDiscovery(time.Millisecond, false)
	m.SetActiveWorkers(3)

	s := m.Snapshot()
	if s["messaging_sent"] != 2 {
		t.Fatalf("expected 2 sent, got %d", s["messaging_sent"])
	}
	if s["dispatch_neighbours_ok"] != 1 || s["forward_self_source"] != 1 {
		t.Fatalf("unexpected snapshot %v", s)
	}
	if s["discovery_fail"] != 1 || s["active_workers"] != 3 {
		t.Fatalf("unexpected snapshot %v", s)
	}
}

func TestPromMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPromMetrics(reg)
	m.IncForward(ForwardSent)
	m.IncForward(ForwardSent)
	m.SetActiveWorkers(2)

	if got := testutil.ToFloat64(m.forward.WithLabelValues(ForwardSent)); got != 2 {
		t.Fatalf("expected 2 forwards, got %v", got)
	}
	if got := testutil.ToFloat64(m.workers); got != 2 {
		t.Fatalf("expected 2 workers, got %v", got)
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopMetrics); !ok {
		t.Fatalf("expected NoopMetrics for nil")
	}
}
