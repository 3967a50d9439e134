package domain

import (
	"context"
	"time"
)

// DecisionKind enumerates the ways an approval request can be resolved.
type DecisionKind string

const (
	DecisionAllowOnce    DecisionKind = "allow_once"
	DecisionAllowAlways  DecisionKind = "allow_always"
	DecisionDeny         DecisionKind = "deny"
	DecisionAutoApproved DecisionKind = "auto_approved"
)

// ApprovalDecision resolves exactly one approval request. Pattern is only
// set for DecisionAllowAlways.
type ApprovalDecision struct {
	Kind    DecisionKind
	Pattern string
}

func AllowOnce() ApprovalDecision    { return ApprovalDecision{Kind: DecisionAllowOnce} }
func Deny() ApprovalDecision         { return ApprovalDecision{Kind: DecisionDeny} }
func AutoApproved() ApprovalDecision { return ApprovalDecision{Kind: DecisionAutoApproved} }

func AllowAlways(pattern string) ApprovalDecision {
	return ApprovalDecision{Kind: DecisionAllowAlways, Pattern: pattern}
}

// Allowed reports whether the decision permits execution.
func (d ApprovalDecision) Allowed() bool {
	switch d.Kind {
	case DecisionAllowOnce, DecisionAllowAlways, DecisionAutoApproved:
		return true
	}
	return false
}

// Label is the short human-readable form shown on the chat surface.
func (d ApprovalDecision) Label() string {
	switch d.Kind {
	case DecisionAllowOnce:
		return "approved (once)"
	case DecisionAllowAlways:
		return "approved (always)"
	case DecisionDeny:
		return "denied"
	case DecisionAutoApproved:
		return "auto-approved"
	}
	return string(d.Kind)
}

// ApprovalRule is a persisted allow-always pattern.
type ApprovalRule struct {
	ID        int64     `json:"id"`
	Pattern   string    `json:"pattern"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditEntry struct {
	Action   string // command_blocked | pre_approved | approved | denied | approval_timeout
	ToolName string
	Command  string
	Result   string
	Details  string
}

// Approver decides whether a gated tool call may run. Implementations either
// decide immediately or wait on a human.
type Approver interface {
	RequestApproval(ctx context.Context, call ToolCall) (ApprovalDecision, error)
}
