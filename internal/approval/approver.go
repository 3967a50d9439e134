package approval

import (
	"context"
	"errors"

	"ava/internal/domain"
)

// ErrTimeout is returned when no decision arrives before the approval window
// closes, or when the pending request is dropped without a reply.
var ErrTimeout = errors.New("approval timed out")

// Callback actions carried in button data as exec:<nonce>:<action>.
const (
	callbackPrefix    = "exec"
	ActionAllowOnce   = "allow_once"
	ActionAllowAlways = "allow_always"
	ActionDeny        = "deny"
)

// Button is one inline choice on an approval prompt.
type Button struct {
	Text string
	Data string
}

// Surface is the chat transport an interactive approver talks through.
type Surface interface {
	// SendApprovalPrompt posts text with one row of buttons and returns the
	// message id.
	SendApprovalPrompt(ctx context.Context, chatID int64, text string, buttons []Button) (int64, error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// AutoApprover approves everything. Used in non-interactive runs where the
// safety filter is the only gate.
type AutoApprover struct{}

func (AutoApprover) RequestApproval(context.Context, domain.ToolCall) (domain.ApprovalDecision, error) {
	return domain.AutoApproved(), nil
}

// CommandOf extracts the command text shown to the human.
func CommandOf(call domain.ToolCall) string {
	if cmd := call.StringArg("command"); cmd != "" {
		return cmd
	}
	return "<unknown command>"
}

func callbackData(nonce, action string) string {
	return callbackPrefix + ":" + nonce + ":" + action
}
