package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"ava/internal/domain"
)

// MaxResultChars bounds every tool result handed back to the model.
const MaxResultChars = 4000

const truncatedMarker = "\n... (truncated)"

// Registry holds all available tools and executes them.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

func (r *Registry) Register(t domain.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.logger.Debug("registered tool", "name", t.Name())
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Gated returns the command text to authorize when call targets a gated
// tool.
func (r *Registry) Gated(call domain.ToolCall) (string, bool) {
	g, ok := r.Get(call.Name).(domain.GatedTool)
	if !ok {
		return "", false
	}
	return g.GatedCommand(call.Arguments), true
}

// Execute runs call and always produces result text. Unknown tools, invalid
// input and tool failures are reported in the text so the model can react.
func (r *Registry) Execute(ctx context.Context, call domain.ToolCall) string {
	t := r.Get(call.Name)
	if t == nil {
		return "unknown tool: " + call.Name
	}
	out, err := t.Execute(ctx, call.Arguments)
	if err != nil {
		r.logger.Debug("tool failed", "tool", call.Name, "id", call.ID, "err", err)
		return Truncate(err.Error(), MaxResultChars)
	}
	return Truncate(out, MaxResultChars)
}

// GetDefinitions returns tool definitions sorted by name for the model.
func (r *Registry) GetDefinitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Param describes a single tool parameter.
type Param struct {
	Type        string
	Description string
}

// ToolParameters builds a JSON Schema "parameters" object for a tool.
func ToolParameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any)
	for name, p := range properties {
		props[name] = map[string]any{"type": p.Type, "description": p.Description}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// ArgsInt reads a numeric argument. JSON numbers decode as float64; strings
// are accepted too.
func ArgsInt(args map[string]any, key string) (int, bool) {
	if args == nil {
		return 0, false
	}
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

// requireArgs reports the first missing or empty string argument.
func requireArgs(args map[string]any, keys ...string) error {
	for _, k := range keys {
		if ArgsString(args, k) == "" {
			return fmt.Errorf("invalid input: missing field `%s`", k)
		}
	}
	return nil
}

// Truncate caps s at max runes and appends a marker when it cut anything.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + truncatedMarker
}
