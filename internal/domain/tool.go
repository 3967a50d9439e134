package domain

import "context"

// Tool is the interface for agent capabilities (shell, facts, web).
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// GatedTool is implemented by tools whose calls must pass the approval
// pipeline before they run. GatedCommand returns the command text the
// pipeline evaluates.
type GatedTool interface {
	Tool
	GatedCommand(args map[string]any) string
}
