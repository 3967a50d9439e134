package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"ava/internal/domain"
)

const (
	factsInPrompt     = 50
	maxFactValueChars = 200
)

// PromptBuilder renders the system prompt: identity, runtime, rules and the
// remembered facts.
type PromptBuilder struct {
	facts             domain.FactStore
	logger            *slog.Logger
	systemPromptExtra string
	now               func() time.Time
}

type PromptConfig struct {
	Facts             domain.FactStore
	SystemPromptExtra string
	Logger            *slog.Logger
}

func NewPromptBuilder(cfg PromptConfig) *PromptBuilder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PromptBuilder{
		facts:             cfg.Facts,
		logger:            cfg.Logger,
		systemPromptExtra: cfg.SystemPromptExtra,
		now:               time.Now,
	}
}

func (p *PromptBuilder) BuildSystemPrompt(ctx context.Context, channel, chatID string) string {
	var b strings.Builder

	fmt.Fprintf(&b, `# Ava

You are Ava, a personal assistant with access to tools.

## Current Time
%s

## Runtime
%s %s

## Session
Channel: %s | Chat ID: %s

## RULES
1. Use the shell tool to run commands. Commands may need the user's approval; if one is denied, do not retry it.
2. Use web_search to search the internet and web_fetch to read a specific URL.
3. When the user tells you something worth keeping (a preference, a name, a date), store it with remember_fact.
4. Respond in the same language the user writes in, and be concise.`,
		p.now().Format("2006-01-02 15:04 (Monday)"), runtime.GOOS, runtime.GOARCH, channel, chatID)

	if p.systemPromptExtra != "" {
		b.WriteString("\n\n## Custom Instructions\n")
		b.WriteString(p.systemPromptExtra)
	}

	if p.facts == nil {
		return b.String()
	}
	facts, err := p.facts.RecentFacts(ctx, factsInPrompt)
	if err != nil {
		p.logger.Warn("failed to load facts for prompt", "err", err)
		return b.String()
	}
	b.WriteString(formatFacts(facts))
	return b.String()
}

// formatFacts groups facts by category, categories sorted, facts in the
// order given.
func formatFacts(facts []domain.Fact) string {
	if len(facts) == 0 {
		return ""
	}
	byCategory := make(map[string][]domain.Fact)
	var categories []string
	for _, f := range facts {
		if _, ok := byCategory[f.Category]; !ok {
			categories = append(categories, f.Category)
		}
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}
	sort.Strings(categories)

	var b strings.Builder
	b.WriteString("\n\n## Remembered facts\n")
	for _, c := range categories {
		fmt.Fprintf(&b, "### %s\n", c)
		for _, f := range byCategory[c] {
			fmt.Fprintf(&b, "- %s: %s\n", f.Key, capRunes(f.Value, maxFactValueChars))
		}
	}
	return b.String()
}

func capRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
