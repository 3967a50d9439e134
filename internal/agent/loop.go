package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"ava/internal/approval"
	"ava/internal/domain"
	"ava/internal/security"
	"ava/internal/tool"
)

// ErrMaxRounds ends a turn whose model keeps requesting tools past the round
// limit.
var ErrMaxRounds = errors.New("tool round limit exceeded")

const (
	defaultMaxRounds    = 5
	defaultConcurrency  = 5
	defaultHistoryLimit = 20
	maxParallelTools    = 4
	emptyReply          = "I've completed processing but have no additional response."
)

// Loop is the core agent engine: receive message → call model → gate and
// execute tools → respond.
type Loop struct {
	provider     domain.Provider
	sessions     *SessionManager
	prompt       *PromptBuilder
	tools        *tool.Registry
	security     *security.Engine
	bus          domain.MessageBus
	logger       *slog.Logger
	maxRounds    int
	concurrency  int
	historyLimit int
}

// LoopConfig holds all dependencies and tuning parameters for the agent loop.
type LoopConfig struct {
	Provider     domain.Provider
	Sessions     *SessionManager // optional: no history when nil
	Prompt       *PromptBuilder
	Tools        *tool.Registry
	Security     *security.Engine
	Bus          domain.MessageBus // only needed by Run
	Logger       *slog.Logger
	MaxRounds    int
	Concurrency  int // max messages processed at once by Run
	HistoryLimit int
}

func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent loop: provider is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("agent loop: tool registry is required")
	}
	if cfg.Security == nil {
		return nil, fmt.Errorf("agent loop: security engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Prompt == nil {
		cfg.Prompt = NewPromptBuilder(PromptConfig{Logger: cfg.Logger})
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Loop{
		provider:     cfg.Provider,
		sessions:     cfg.Sessions,
		prompt:       cfg.Prompt,
		tools:        cfg.Tools,
		security:     cfg.Security,
		bus:          cfg.Bus,
		logger:       cfg.Logger,
		maxRounds:    cfg.MaxRounds,
		concurrency:  cfg.Concurrency,
		historyLimit: cfg.HistoryLimit,
	}, nil
}

// Run consumes inbound messages and processes them with bounded concurrency
// until ctx is canceled or the bus closes.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("agent loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("agent loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, agent loop stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				l.processMessage(ctx, m)
			}(msg)
		}
	}
}

func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	l.logger.Info("processing message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"content_len", len(msg.Content),
	)

	response, err := l.Process(ctx, msg)
	if err != nil {
		l.logger.Error("message processing failed", "channel", msg.Channel, "err", err)
		response = fmt.Sprintf("Sorry, I encountered an error: %s", err.Error())
	}

	l.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: response,
	})
}

// Process handles one inbound message and returns the reply. The model may
// request tools for at most maxRounds turns; a further request fails with
// ErrMaxRounds. An approval timeout ends the turn with approval.ErrTimeout.
func (l *Loop) Process(ctx context.Context, msg domain.InboundMessage) (string, error) {
	if msg.Channel == domain.ChannelTelegram {
		if id, err := strconv.ParseInt(msg.ChatID, 10, 64); err == nil {
			ctx = approval.WithChatID(ctx, id)
		}
	}

	var convID string
	var messages []domain.Message
	if l.sessions != nil {
		var err error
		convID, err = l.sessions.GetOrCreateConversation(ctx, SessionKey(msg.Channel, msg.ChatID), l.provider.Name(), msg.Content)
		if err != nil {
			return "", fmt.Errorf("session error: %w", err)
		}
		history, err := l.sessions.GetHistory(ctx, convID, l.historyLimit)
		if err != nil {
			l.logger.Warn("failed to load history, continuing without it", "err", err)
		}
		messages = append(messages, history...)
	}
	messages = append(messages, domain.Message{Role: "user", Content: msg.Content})

	system := l.prompt.BuildSystemPrompt(ctx, msg.Channel, msg.ChatID)
	toolDefs := l.tools.GetDefinitions()

	var final string
	for round := 0; ; round++ {
		start := time.Now()
		resp, err := l.provider.Chat(ctx, domain.ChatRequest{
			System:   system,
			Messages: messages,
			Tools:    toolDefs,
		})
		if err != nil {
			return "", fmt.Errorf("model error: %w", err)
		}
		l.logger.Debug("model turn",
			"round", round+1,
			"tool_calls", len(resp.ToolCalls),
			"latency_ms", time.Since(start).Milliseconds(),
		)

		if !resp.HasToolCalls() {
			final = resp.Content
			break
		}
		if round >= l.maxRounds {
			return "", fmt.Errorf("%w: %d rounds", ErrMaxRounds, l.maxRounds)
		}

		results, err := l.dispatch(ctx, resp.ToolCalls)
		if err != nil {
			return "", err
		}

		messages = append(messages, domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for i, call := range resp.ToolCalls {
			messages = append(messages, domain.Message{
				Role:       "tool",
				Content:    results[i],
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	if final == "" {
		final = emptyReply
	}

	if l.sessions != nil {
		if err := l.sessions.SaveTurn(ctx, convID, msg.Content, final); err != nil {
			l.logger.Warn("failed to save conversation turn", "conv", convID, "err", err)
		}
	}
	return final, nil
}

// dispatch runs the calls of one model turn concurrently and returns their
// results in request order. The first hard error cancels the rest.
func (l *Loop) dispatch(ctx context.Context, calls []domain.ToolCall) ([]string, error) {
	results := make([]string, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelTools)

	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			out, err := l.runTool(gctx, call)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// runTool authorizes gated calls and executes the call. Policy rejections
// come back as result text; only pipeline failures are errors.
func (l *Loop) runTool(ctx context.Context, call domain.ToolCall) (string, error) {
	l.logger.Info("executing tool", "tool", call.Name, "id", call.ID)

	if command, gated := l.tools.Gated(call); gated {
		verdict, err := l.security.Authorize(ctx, call, command)
		if err != nil {
			return "", fmt.Errorf("authorize %s: %w", call.Name, err)
		}
		if !verdict.Allowed {
			return verdict.Result, nil
		}
	}

	result := l.tools.Execute(ctx, call)
	l.logger.Debug("tool completed", "tool", call.Name, "result_len", len(result))
	return result, nil
}
