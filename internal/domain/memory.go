package domain

import (
	"context"
	"time"
)

// Fact is a remembered item, unique on (Category, Key).
type Fact struct {
	Category  string    `json:"category"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FactStore persists facts written by the remember_fact tool.
type FactStore interface {
	RememberFact(ctx context.Context, fact Fact) error
	RecentFacts(ctx context.Context, limit int) ([]Fact, error)
}

// MemoryStore handles persistent storage of conversations, facts, and approval rules.
type MemoryStore interface {
	FactStore

	CreateConversation(ctx context.Context, conv Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	AddMessage(ctx context.Context, convID string, msg MessageRecord) error
	GetMessages(ctx context.Context, convID string, limit int) ([]MessageRecord, error)
	DeleteConversation(ctx context.Context, id string) error

	InsertRule(ctx context.Context, pattern string) error
	ListRules(ctx context.Context) ([]ApprovalRule, error)
	DeleteRule(ctx context.Context, id int64) (bool, error)

	LogAudit(ctx context.Context, entry AuditEntry) error
	Close() error
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessageRecord struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
