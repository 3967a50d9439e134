package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ava/internal/bus"
	"ava/internal/channel"
	"ava/internal/config"
	"ava/internal/domain"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ava",
		Short:        "Ava: a personal assistant that asks before it runs anything",
		Long:         "Ava is a chat assistant that can run shell commands, search the web and remember facts. Every shell command needs a human approval or a stored allow-always rule.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.ava/config.json)")

	root.AddCommand(versionCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(messageCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(rulesCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	return root
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config and rebuilds the logger at the configured level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.General.LogLevel)}))
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ava %s\n", version)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database and rule status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			schema, err := store.SchemaVersion()
			if err != nil {
				return fmt.Errorf("schema version: %w", err)
			}
			rules, err := store.ListRules(cmd.Context())
			if err != nil {
				return fmt.Errorf("list rules: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ava %s\n", version)
			fmt.Fprintf(out, "config:   %s\n", resolveConfigPath())
			fmt.Fprintf(out, "database: %s (schema v%d)\n", store.Path(), schema)
			fmt.Fprintf(out, "provider: %s\n", cfg.General.DefaultProvider)
			fmt.Fprintf(out, "approver: %s\n", cfg.Security.Approver)
			fmt.Fprintf(out, "rules:    %d\n", len(rules))
			return nil
		},
	}
}

func messageCmd() *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "message [text]",
		Short: "Send one message and print the reply",
		Long:  "Runs a single agent turn. Without --interactive, gated tool calls are auto-approved (the safety filter still applies).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			mode := approverAuto
			if interactive {
				mode = approverTerminal
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(cfg, appOptions{Approver: mode, Bus: bus.New(1, logger)})
			if err != nil {
				return err
			}
			defer app.Close()

			reply, err := app.Loop.Process(ctx, domain.InboundMessage{
				Channel:   domain.ChannelCLI,
				ChatID:    channel.CLIChatID,
				SenderID:  "local",
				Content:   args[0],
				Timestamp: time.Now(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "ask on the terminal before running gated tools")
	return cmd
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat on the terminal",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := approverTerminal
	if cfg.Security.Approver == "auto" {
		mode = approverAuto
	}
	messageBus := bus.New(100, logger)
	app, err := newApp(cfg, appOptions{Approver: mode, Bus: messageBus})
	if err != nil {
		return err
	}
	defer app.Close()

	go app.Loop.Run(ctx)

	cli := channel.NewCLI(channel.CLIConfig{Logger: logger})
	return cli.Start(ctx, messageBus)
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the Telegram gateway and the agent loop",
		Long:  "Serves the Telegram bot. Approval prompts are posted to the chat the request came from. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Channels.Telegram.Enabled {
		return fmt.Errorf("telegram is not enabled: set channels.telegram.token or TELOXIDE_TOKEN")
	}
	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := approverTelegram
	if cfg.Security.Approver == "auto" {
		mode = approverAuto
	}
	messageBus := bus.New(100, logger)
	app, err := newApp(cfg, appOptions{Approver: mode, Bus: messageBus})
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Provider.Healthy(ctx); err != nil {
		logger.Warn("default provider unhealthy at startup", "provider", app.Provider.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", app.Provider.Name())
	}

	if err := app.Telegram.Connect(); err != nil {
		return err
	}

	go app.Loop.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- app.Telegram.Start(ctx, messageBus) }()

	logger.Info("gateway started. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("telegram channel: %w", err)
		}
		logger.Info("telegram updates ended, gateway stopping")
		return nil
	}
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	select {
	case <-errCh:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
	return nil
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage allow-always approval rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rules, err := store.ListRules(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rules) == 0 {
				fmt.Fprintln(out, "no rules")
				return nil
			}
			for _, r := range rules {
				fmt.Fprintf(out, "%d\t%s\t%s\n", r.ID, r.Pattern, r.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a rule by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid rule id %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ok, err := store.DeleteRule(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no rule with id %d", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted rule %d\n", id)
			return nil
		},
	})

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and show configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.defaultProvider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. security.approvalTimeoutSeconds 120)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
