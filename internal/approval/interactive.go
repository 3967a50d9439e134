package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"ava/internal/domain"
	"ava/internal/security"
)

// DefaultTimeout is how long a prompt waits for a button press.
const DefaultTimeout = 5 * time.Minute

const sensitiveWarning = "\n⚠ references sensitive environment variables"

var errNoChat = errors.New("no chat to send the approval prompt to")

// InteractiveApprover asks a human through a chat surface and blocks until
// they answer, the timeout fires, or ctx is canceled.
type InteractiveApprover struct {
	surface  Surface
	registry *Registry
	chatID   int64
	timeout  time.Duration
	events   domain.EventEmitter
	logger   *slog.Logger
}

type InteractiveConfig struct {
	Surface  Surface
	Registry *Registry
	ChatID   int64
	Timeout  time.Duration
	Events   domain.EventEmitter // optional
	Logger   *slog.Logger
}

func NewInteractiveApprover(cfg InteractiveConfig) *InteractiveApprover {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &InteractiveApprover{
		surface:  cfg.Surface,
		registry: cfg.Registry,
		chatID:   cfg.ChatID,
		timeout:  cfg.Timeout,
		events:   cfg.Events,
		logger:   cfg.Logger,
	}
}

// RequestApproval posts a prompt for call and waits for the decision. An
// allow-always answer comes back with a pattern generated from the command.
func (a *InteractiveApprover) RequestApproval(ctx context.Context, call domain.ToolCall) (domain.ApprovalDecision, error) {
	chatID := a.chatID
	if id, ok := ChatIDFrom(ctx); ok {
		chatID = id
	}
	if chatID == 0 {
		return domain.ApprovalDecision{}, errNoChat
	}

	command := call.StringArg("command")
	nonce := ulid.Make().String()
	sensitive := security.ReferencesSensitiveEnv(command)

	text := "command: " + CommandOf(call)
	if sensitive {
		text += sensitiveWarning
	}
	buttons := []Button{{Text: "allow once", Data: callbackData(nonce, ActionAllowOnce)}}
	if !sensitive {
		buttons = append(buttons, Button{Text: "allow always", Data: callbackData(nonce, ActionAllowAlways)})
	}
	buttons = append(buttons, Button{Text: "deny", Data: callbackData(nonce, ActionDeny)})

	// Registered before sending so a fast tap never lands on an unknown nonce.
	reply := make(chan domain.ApprovalDecision, 1)
	a.registry.Register(nonce, reply, chatID, 0)

	messageID, err := a.surface.SendApprovalPrompt(ctx, chatID, text, buttons)
	if err != nil {
		a.registry.Expire(nonce)
		return domain.ApprovalDecision{}, fmt.Errorf("send approval prompt: %w", err)
	}
	attached := a.registry.Attach(nonce, messageID)

	a.logger.Info("approval requested", "tool", call.Name, "nonce", nonce, "sensitive", sensitive)
	a.emit(domain.EventApprovalRequested, nonce, map[string]any{"tool": call.Name, "chat_id": chatID, "sensitive": sensitive})

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	resolved := func(decision domain.ApprovalDecision, ok bool) (domain.ApprovalDecision, error) {
		if !ok {
			return domain.ApprovalDecision{}, ErrTimeout
		}
		if decision.Kind == domain.DecisionAllowAlways {
			decision.Pattern = security.GeneratePattern(command)
		}
		if !attached {
			// Resolved before the message id was known; the router could not edit it.
			a.markClosed(chatID, messageID, "-> "+decision.Label())
		}
		a.logger.Info("approval resolved", "nonce", nonce, "decision", decision.Label())
		a.emit(domain.EventApprovalResolved, nonce, map[string]any{"decision": string(decision.Kind)})
		return decision, nil
	}

	select {
	case decision, ok := <-reply:
		return resolved(decision, ok)

	case <-timer.C:
		if !a.registry.Expire(nonce) {
			// A press won the race with the timer; its decision is in flight.
			decision, ok := <-reply
			return resolved(decision, ok)
		}
		a.logger.Warn("approval timed out", "nonce", nonce, "timeout", a.timeout)
		a.markClosed(chatID, messageID, "-> expired")
		a.emit(domain.EventApprovalExpired, nonce, map[string]any{"reason": "timeout"})
		return domain.ApprovalDecision{}, ErrTimeout

	case <-ctx.Done():
		if !a.registry.Expire(nonce) {
			decision, ok := <-reply
			return resolved(decision, ok)
		}
		a.markClosed(chatID, messageID, "-> canceled")
		a.emit(domain.EventApprovalExpired, nonce, map[string]any{"reason": "canceled"})
		return domain.ApprovalDecision{}, ctx.Err()
	}
}

func (a *InteractiveApprover) emit(eventType, nonce string, payload map[string]any) {
	if a.events == nil {
		return
	}
	payload["nonce"] = nonce
	a.events.Emit(domain.Event{Type: eventType, Source: "approval", Payload: payload})
}

func (a *InteractiveApprover) markClosed(chatID, messageID int64, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.surface.EditMessage(ctx, chatID, messageID, text); err != nil {
		a.logger.Debug("edit expired prompt failed", "err", err)
	}
}
