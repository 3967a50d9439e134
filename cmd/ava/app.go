package main

import (
	"fmt"
	"time"

	"ava/internal/agent"
	"ava/internal/approval"
	"ava/internal/bus"
	"ava/internal/channel"
	"ava/internal/config"
	"ava/internal/domain"
	"ava/internal/memory"
	"ava/internal/provider"
	"ava/internal/security"
	"ava/internal/tool"
)

// approverMode selects who answers approval prompts.
type approverMode int

const (
	approverAuto approverMode = iota
	approverTerminal
	approverTelegram
)

type appOptions struct {
	Approver approverMode
	Bus      domain.MessageBus
	// Provider replaces the configured provider. Tests only.
	Provider domain.Provider
}

// app is the wired object graph shared by the chat, message and gateway
// commands.
type app struct {
	Store    *memory.SQLiteStore
	Provider domain.Provider
	Registry *approval.Registry
	Events   *bus.EventBus
	Telegram *channel.Telegram // nil unless the approver is Telegram
	Security *security.Engine
	Tools    *tool.Registry
	Loop     *agent.Loop

	started time.Time
}

func openStore(cfg *config.Config) (*memory.SQLiteStore, error) {
	store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	return store, nil
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{
		Store:    store,
		Registry: approval.NewRegistry(),
		Events:   bus.NewEventBus(logger),
		started:  time.Now(),
	}
	a.Events.On("*", func(ev domain.Event) {
		logger.Debug("event", "type", ev.Type, "source", ev.Source, "payload", ev.Payload)
	})
	if err := a.wire(cfg, opts); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(cfg *config.Config, opts appOptions) error {
	filter, err := security.NewFilter(cfg.Security.ExtraBlacklist)
	if err != nil {
		return err
	}
	rules := security.NewRuleStore(a.Store)
	sessions := agent.NewSessionManager(a.Store, logger)

	var approver domain.Approver
	switch opts.Approver {
	case approverAuto:
		logger.Warn("auto approver in use: gated commands run without asking")
		approver = approval.AutoApprover{}
	case approverTerminal:
		approver = approval.NewTerminalApprover()
	case approverTelegram:
		tg := cfg.Channels.Telegram
		a.Telegram = channel.NewTelegram(channel.TelegramConfig{
			Token:     tg.Token,
			AllowFrom: tg.AllowFrom,
			Registry:  a.Registry,
			Rules:     rules,
			Sessions:  sessions,
			Logger:    logger,
		})
		approver = approval.NewInteractiveApprover(approval.InteractiveConfig{
			Surface:  a.Telegram,
			Registry: a.Registry,
			ChatID:   tg.ApprovalChatID,
			Timeout:  time.Duration(cfg.Security.ApprovalTimeoutSeconds) * time.Second,
			Events:   a.Events,
			Logger:   logger,
		})
	default:
		return fmt.Errorf("unknown approver mode %d", opts.Approver)
	}

	engineCfg := security.EngineConfig{
		Filter:   filter,
		Rules:    rules,
		Approver: approver,
		AuditLog: cfg.Security.AuditLog,
		Events:   a.Events,
		Logger:   logger,
	}
	if cfg.Security.AuditLog {
		engineCfg.AuditLogger = a.Store
	}
	a.Security, err = security.NewEngine(engineCfg)
	if err != nil {
		return err
	}

	a.Tools = registerTools(cfg, filter, a.Store)

	a.Provider = opts.Provider
	if a.Provider == nil {
		a.Provider, err = provider.NewFactory(cfg, logger).Default()
		if err != nil {
			return fmt.Errorf("provider: %w", err)
		}
	}

	a.Loop, err = agent.NewLoop(agent.LoopConfig{
		Provider: a.Provider,
		Sessions: sessions,
		Prompt: agent.NewPromptBuilder(agent.PromptConfig{
			Facts:             a.Store,
			SystemPromptExtra: cfg.General.SystemPromptExtra,
			Logger:            logger,
		}),
		Tools:        a.Tools,
		Security:     a.Security,
		Bus:          opts.Bus,
		Logger:       logger,
		MaxRounds:    cfg.General.MaxRounds,
		Concurrency:  cfg.General.MaxConcurrentMessages,
		HistoryLimit: cfg.Memory.MaxHistory,
	})
	return err
}

// registerTools creates the tool set the model can call.
func registerTools(cfg *config.Config, filter *security.Filter, facts domain.FactStore) *tool.Registry {
	toolReg := tool.NewRegistry(logger)
	toolReg.Register(tool.NewShellTool(tool.ShellConfig{
		WorkingDir:     cfg.General.Workspace,
		TimeoutSeconds: cfg.Tools.Shell.Timeout,
		Filter:         filter,
	}))
	toolReg.Register(tool.NewRememberFactTool(facts))
	toolReg.Register(tool.NewWebSearchTool(tool.WebSearchConfig{APIKey: cfg.Tools.Web.SearchAPIKey}))
	toolReg.Register(tool.NewWebFetchTool(tool.WebFetchConfig{}))
	return toolReg
}

// gatingSummary counts the gating outcomes recorded since the app started,
// keyed by event type.
func (a *app) gatingSummary() map[string]int {
	counts := make(map[string]int)
	for _, ev := range a.Events.Replay("security.*", a.started) {
		counts[ev.Type]++
	}
	return counts
}

func (a *app) Close() {
	if counts := a.gatingSummary(); len(counts) > 0 {
		logger.Info("gating summary", "counts", counts)
	}
	if err := a.Store.Close(); err != nil {
		logger.Warn("close store", "err", err)
	}
}
