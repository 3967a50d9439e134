package security

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"ava/internal/domain"
)

// DeniedResult is the tool result reported when a human denies a command.
const DeniedResult = "command denied by user"

// AuditLogger is the interface for writing audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry domain.AuditEntry) error
}

// Verdict is the outcome of the gating pipeline for one tool call. When
// Allowed is false, Result is the text reported back to the model.
type Verdict struct {
	Allowed bool
	Result  string
	Via     string // filter | rule | approver
}

// Engine runs a gated tool call through the safety filter, the stored
// allow-always rules and finally the approver.
type Engine struct {
	filter      *Filter
	rules       *RuleStore
	approver    domain.Approver
	auditLogger AuditLogger
	auditLog    bool
	events      domain.EventEmitter
	logger      *slog.Logger
}

type EngineConfig struct {
	Filter      *Filter
	Rules       *RuleStore
	Approver    domain.Approver
	AuditLogger AuditLogger
	AuditLog    bool
	// Events receives one event per gating outcome, independent of AuditLog.
	Events domain.EventEmitter
	Logger *slog.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Rules == nil {
		return nil, fmt.Errorf("security engine: rule store is required")
	}
	if cfg.Approver == nil {
		return nil, fmt.Errorf("security engine: approver is required")
	}
	if cfg.Filter == nil {
		cfg.Filter = &Filter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		filter:      cfg.Filter,
		rules:       cfg.Rules,
		approver:    cfg.Approver,
		auditLogger: cfg.AuditLogger,
		auditLog:    cfg.AuditLog,
		events:      cfg.Events,
		logger:      cfg.Logger,
	}, nil
}

// Filter returns the engine's safety filter so executors can share it.
func (e *Engine) Filter() *Filter { return e.filter }

// Authorize decides whether call may run. Policy rejections come back as a
// Verdict; only infrastructure failures and approval timeouts are errors.
func (e *Engine) Authorize(ctx context.Context, call domain.ToolCall, command string) (Verdict, error) {
	cmd := strings.TrimSpace(command)

	if reason, blocked := e.filter.Check(cmd); blocked {
		e.logger.Warn("command BLOCKED by safety filter",
			"tool", call.Name,
			"command", cmd,
			"reason", reason,
		)
		e.logAction(ctx, "command_blocked", call.Name, cmd, "blocked", reason)
		return Verdict{Result: reason, Via: "filter"}, nil
	}

	ruleID, ok, err := e.rules.FindMatching(ctx, cmd)
	if err != nil {
		return Verdict{}, fmt.Errorf("rule lookup: %w", err)
	}
	if ok {
		e.logger.Info("command pre-approved by rule", "tool", call.Name, "rule_id", ruleID)
		e.logAction(ctx, "pre_approved", call.Name, cmd, "allowed", "rule "+strconv.FormatInt(ruleID, 10))
		return Verdict{Allowed: true, Via: "rule"}, nil
	}

	decision, err := e.approver.RequestApproval(ctx, call)
	if err != nil {
		e.logAction(ctx, "approval_failed", call.Name, cmd, "denied", err.Error())
		return Verdict{}, err
	}

	if !decision.Allowed() {
		e.logger.Info("command denied", "tool", call.Name, "command", cmd)
		e.logAction(ctx, "denied", call.Name, cmd, "denied", decision.Label())
		return Verdict{Result: DeniedResult, Via: "approver"}, nil
	}

	if decision.Kind == domain.DecisionAllowAlways && decision.Pattern != "" {
		if err := e.rules.Save(ctx, decision.Pattern); err != nil {
			return Verdict{}, err
		}
		e.logger.Info("saved approval rule", "pattern", decision.Pattern)
	}

	e.logAction(ctx, "approved", call.Name, cmd, "allowed", decision.Label())
	return Verdict{Allowed: true, Via: "approver"}, nil
}

var actionEvents = map[string]string{
	"command_blocked": domain.EventSecurityBlocked,
	"pre_approved":    domain.EventSecurityPreApproved,
	"approval_failed": domain.EventSecurityApprovalFailed,
	"denied":          domain.EventSecurityDenied,
	"approved":        domain.EventSecurityApproved,
}

func (e *Engine) logAction(ctx context.Context, action, toolName, command, result, details string) {
	if e.events != nil {
		e.events.Emit(domain.Event{
			Type:   actionEvents[action],
			Source: "security",
			Payload: map[string]any{
				"tool":    toolName,
				"command": command,
				"result":  result,
				"details": details,
			},
		})
	}
	if !e.auditLog || e.auditLogger == nil {
		return
	}
	err := e.auditLogger.LogAudit(ctx, domain.AuditEntry{
		Action:   action,
		ToolName: toolName,
		Command:  command,
		Result:   result,
		Details:  details,
	})
	if err != nil {
		e.logger.Warn("audit log write failed", "action", action, "err", err)
	}
}
