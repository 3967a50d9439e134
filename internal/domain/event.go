package domain

import "time"

// Event is an in-process notification about gating and approval activity.
type Event struct {
	Type      string
	Source    string
	Payload   map[string]any
	Timestamp time.Time
}

// EventEmitter accepts events. Implementations must not block the caller
// for long; the gating path emits synchronously.
type EventEmitter interface {
	Emit(Event)
}

// Well-known event types.
const (
	EventSecurityBlocked        = "security.blocked"
	EventSecurityPreApproved    = "security.pre_approved"
	EventSecurityApproved       = "security.approved"
	EventSecurityDenied         = "security.denied"
	EventSecurityApprovalFailed = "security.approval_failed"

	EventApprovalRequested = "approval.requested"
	EventApprovalResolved  = "approval.resolved"
	EventApprovalExpired   = "approval.expired"
)
