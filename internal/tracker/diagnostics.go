package tracker

import "sync/atomic"

// Drop reasons passed to Config.OnDrop.
const (
	DropQueueFull = "queue_full"
	DropExhausted = "exhausted"
	DropClosed    = "closed"
)

// Diagnostics counts what happened to a session's events. The chain never
// reports failures to the caller, so this is the only place they show.
type Diagnostics struct {
	sent               atomic.Int64
	droppedQueueFull   atomic.Int64
	droppedExhausted   atomic.Int64
	transportFallbacks atomic.Int64
	blockedDetected    atomic.Int64
}

// DiagnosticsSnapshot is a point-in-time copy of Diagnostics.
type DiagnosticsSnapshot struct {
	Sent               int64 `json:"sent"`
	DroppedQueueFull   int64 `json:"dropped_queue_full"`
	DroppedExhausted   int64 `json:"dropped_exhausted"`
	TransportFallbacks int64 `json:"transport_fallbacks"`
	BlockedDetected    int64 `json:"blocked_detected"`
}

func (d *Diagnostics) Snapshot() DiagnosticsSnapshot {
	return DiagnosticsSnapshot{
		Sent:               d.sent.Load(),
		DroppedQueueFull:   d.droppedQueueFull.Load(),
		DroppedExhausted:   d.droppedExhausted.Load(),
		TransportFallbacks: d.transportFallbacks.Load(),
		BlockedDetected:    d.blockedDetected.Load(),
	}
}
