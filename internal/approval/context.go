package approval

import "context"

type chatIDKey struct{}

// WithChatID returns a context that routes approval prompts to chatID
// instead of the approver's configured chat.
func WithChatID(ctx context.Context, chatID int64) context.Context {
	return context.WithValue(ctx, chatIDKey{}, chatID)
}

// ChatIDFrom returns the chat set by WithChatID.
func ChatIDFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(chatIDKey{}).(int64)
	return id, ok && id != 0
}
