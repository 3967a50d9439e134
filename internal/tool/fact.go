package tool

import (
	"context"
	"fmt"
	"strings"

	"ava/internal/domain"
)

// RememberFactTool stores a user fact for future conversations.
type RememberFactTool struct {
	store domain.FactStore
}

func NewRememberFactTool(store domain.FactStore) *RememberFactTool {
	return &RememberFactTool{store: store}
}

func (t *RememberFactTool) Name() string { return "remember_fact" }

func (t *RememberFactTool) Description() string {
	return "Store a user fact for future conversations. Writing an existing category/key replaces its value."
}

func (t *RememberFactTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"category": {Type: "string", Description: "Fact namespace, such as user or preferences"},
			"key":      {Type: "string", Description: "Fact key within the category"},
			"value":    {Type: "string", Description: "Fact value to store"},
		},
		[]string{"category", "key", "value"},
	)
}

func (t *RememberFactTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if err := requireArgs(args, "category", "key", "value"); err != nil {
		return "", err
	}
	fact := domain.Fact{
		Category: strings.TrimSpace(ArgsString(args, "category")),
		Key:      strings.TrimSpace(ArgsString(args, "key")),
		Value:    ArgsString(args, "value"),
		Source:   "agent",
	}
	if err := t.store.RememberFact(ctx, fact); err != nil {
		return "", fmt.Errorf("failed to store fact: %w", err)
	}
	return "ok", nil
}
