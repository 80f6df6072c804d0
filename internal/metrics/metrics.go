package metrics

import "time"

// Messaging event names.
const (
	EventSent       = "sent"
	EventSendFailed = "send_failed"
	EventReceived   = "received"
	EventDropped    = "dropped"
)

// Forward results.
const (
	ForwardSent       = "forwarded"
	ForwardSelfSource = "self_source"
	ForwardFailed     = "failed"
)

// Metrics is intentionally tiny.
// Implementations must be thread-safe.
type Metrics interface {
	IncMessaging(event string)
	IncDispatch(strategy string, ok bool)
	IncForward(result string)
	IncStored(priority string)
	ObserveDiscovery(duration time.Duration, ok bool)
	SetActiveWorkers(n int)
}

// NoopMetrics is the default.
type NoopMetrics struct{}

func (NoopMetrics) IncMessaging(event string)                        {}
func (NoopMetrics) IncDispatch(strategy string, ok bool)             {}
func (NoopMetrics) IncForward(result string)                         {}
func (NoopMetrics) IncStored(priority string)                        {}
func (NoopMetrics) ObserveDiscovery(duration time.Duration, ok bool) {}
func (NoopMetrics) SetActiveWorkers(n int)                           {}

// OrNoop returns m, or NoopMetrics when m is nil.
func OrNoop(m Metrics) Metrics {
	if m == nil {
		return NoopMetrics{}
	}
	return m
}
