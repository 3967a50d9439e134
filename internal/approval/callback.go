package approval

import (
	"context"
	"log/slog"
	"strings"

	"ava/internal/domain"
)

// Callback is a raw button press from the chat surface.
type Callback struct {
	ID     string
	Data   string
	ChatID int64
}

// HandleCallback routes a button press to its pending request. It returns
// false only when the data is not an approval callback at all, so the caller
// can try other handlers.
func HandleCallback(ctx context.Context, reg *Registry, surface Surface, cb Callback) bool {
	parts := strings.SplitN(cb.Data, ":", 3)
	if len(parts) != 3 || parts[0] != callbackPrefix {
		return false
	}
	nonce, action := parts[1], parts[2]

	var decision domain.ApprovalDecision
	switch action {
	case ActionAllowOnce:
		decision = domain.AllowOnce()
	case ActionAllowAlways:
		// The approver fills in the pattern from the original command.
		decision = domain.AllowAlways("")
	case ActionDeny:
		decision = domain.Deny()
	default:
		answer(ctx, surface, cb.ID, "unknown action")
		return true
	}

	p, ok := reg.Resolve(nonce, decision)
	if !ok {
		answer(ctx, surface, cb.ID, "this approval request has expired")
		return true
	}

	chatID := p.ChatID
	if chatID == 0 {
		chatID = cb.ChatID
	}
	if p.MessageID != 0 {
		if err := surface.EditMessage(ctx, chatID, p.MessageID, "-> "+decision.Label()); err != nil {
			slog.Debug("edit approval prompt failed", "nonce", nonce, "err", err)
		}
	}
	answer(ctx, surface, cb.ID, "")
	return true
}

func answer(ctx context.Context, surface Surface, id, text string) {
	if err := surface.AnswerCallback(ctx, id, text); err != nil {
		slog.Debug("answer callback failed", "err", err)
	}
}
