package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"ava/internal/domain"
)

// ConversationStore is the slice of persistence the session manager needs.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	AddMessage(ctx context.Context, convID string, msg domain.MessageRecord) error
	GetMessages(ctx context.Context, convID string, limit int) ([]domain.MessageRecord, error)
	DeleteConversation(ctx context.Context, id string) error
}

// SessionManager keeps one conversation per channel:chatID and replays its
// recent turns into each model request.
type SessionManager struct {
	store  ConversationStore
	logger *slog.Logger
	mu     sync.Mutex
}

func NewSessionManager(store ConversationStore, logger *slog.Logger) *SessionManager {
	return &SessionManager{store: store, logger: logger}
}

// SessionKey names the conversation a message belongs to.
func SessionKey(channel, chatID string) string {
	return channel + ":" + chatID
}

// GetOrCreateConversation returns the conversation id for sessionKey,
// creating the conversation on first use.
func (sm *SessionManager) GetOrCreateConversation(ctx context.Context, sessionKey, provider, firstMessage string) (string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	conv, err := sm.store.GetConversation(ctx, sessionKey)
	if err != nil {
		return "", err
	}
	if conv != nil {
		return conv.ID, nil
	}

	if err := sm.store.CreateConversation(ctx, domain.Conversation{
		ID:       sessionKey,
		Title:    generateTitle(firstMessage),
		Provider: provider,
	}); err != nil {
		return "", err
	}
	sm.logger.Info("created new conversation", "session", sessionKey, "provider", provider)
	return sessionKey, nil
}

// GetHistory returns the last limit user/assistant turns, oldest first.
func (sm *SessionManager) GetHistory(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	records, err := sm.store.GetMessages(ctx, convID, limit)
	if err != nil {
		return nil, err
	}
	messages := make([]domain.Message, 0, len(records))
	for _, r := range records {
		messages = append(messages, domain.Message{Role: r.Role, Content: r.Content})
	}
	return messages, nil
}

// SaveTurn stores a completed exchange. Tool traffic is not persisted.
func (sm *SessionManager) SaveTurn(ctx context.Context, convID, user, assistant string) error {
	if err := sm.store.AddMessage(ctx, convID, domain.MessageRecord{Role: "user", Content: user}); err != nil {
		return err
	}
	return sm.store.AddMessage(ctx, convID, domain.MessageRecord{Role: "assistant", Content: assistant})
}

// ClearSession deletes a conversation and its messages.
func (sm *SessionManager) ClearSession(ctx context.Context, sessionKey string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err := sm.store.DeleteConversation(ctx, sessionKey); err != nil {
		return err
	}
	sm.logger.Info("session cleared", "session", sessionKey)
	return nil
}

func generateTitle(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "New conversation"
	}
	if idx := strings.IndexAny(msg, "\n\r"); idx > 0 {
		msg = msg[:idx]
	}
	if len(msg) > 60 {
		cut := strings.LastIndex(msg[:60], " ")
		if cut < 20 {
			cut = 60
		}
		msg = msg[:cut] + "..."
	}
	return msg
}
