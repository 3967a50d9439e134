package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ava/internal/config"
	"ava/internal/provider"
)

// checkReport tallies doctor results.
type checkReport struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *checkReport) pass(check, detail string) {
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *checkReport) warn(check, detail string) {
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func (r *checkReport) fail(check, detail string) {
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func doctorCmd() *cobra.Command {
	var online bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the ava setup",
		Long: `Verifies that the configuration, database, providers and approval
surface are set up. With --online the default provider is also contacted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &checkReport{out: cmd.OutOrStdout()}
			fmt.Fprintf(r.out, "ava doctor %s\n\n", version)

			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", "not found at "+cfgPath+" (defaults + environment)")
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.finish()
			}
			r.pass("Config validation", "valid")

			checkWorkspace(r, cfg)
			checkDatabase(r, cfg)
			checkProviders(r, cfg)
			checkApproval(r, cfg)

			if online {
				ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
				defer cancel()
				prov, err := provider.NewFactory(cfg, logger).Default()
				switch {
				case err != nil:
					r.fail("Provider health", err.Error())
				case prov.Healthy(ctx) != nil:
					r.fail("Provider health", prov.Name()+" unreachable or unauthorized")
				default:
					r.pass("Provider health", prov.Name())
				}
			}
			return r.finish()
		},
	}
	cmd.Flags().BoolVar(&online, "online", false, "also contact the default provider")
	return cmd
}

func (r *checkReport) finish() error {
	fmt.Fprintf(r.out, "\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}

func checkWorkspace(r *checkReport, cfg *config.Config) {
	info, err := os.Stat(cfg.General.Workspace)
	switch {
	case err != nil:
		r.warn("Workspace", "missing, created on first chat: "+cfg.General.Workspace)
	case !info.IsDir():
		r.fail("Workspace", "not a directory: "+cfg.General.Workspace)
	default:
		r.pass("Workspace", cfg.General.Workspace)
	}
}

func checkDatabase(r *checkReport, cfg *config.Config) {
	store, err := openStore(cfg)
	if err != nil {
		r.fail("Database", err.Error())
		return
	}
	defer store.Close()
	v, err := store.SchemaVersion()
	if err != nil {
		r.fail("Database", err.Error())
		return
	}
	r.pass("Database", fmt.Sprintf("%s (schema v%d)", store.Path(), v))
}

func checkProviders(r *checkReport, cfg *config.Config) {
	enabled := 0
	for name, p := range cfg.Providers {
		if !p.Enabled {
			continue
		}
		enabled++
		if p.APIKey == "" {
			r.warn("Provider: "+name, "enabled but no API key configured")
		} else {
			r.pass("Provider: "+name, "configured")
		}
	}
	if enabled == 0 {
		r.fail("Providers", "no providers enabled")
	}
}

func checkApproval(r *checkReport, cfg *config.Config) {
	if cfg.Security.Approver == "auto" {
		r.warn("Approver", "auto: gated commands run without asking")
		return
	}
	r.pass("Approver", fmt.Sprintf("interactive, %ds timeout", cfg.Security.ApprovalTimeoutSeconds))

	tg := cfg.Channels.Telegram
	if !tg.Enabled {
		r.warn("Telegram", "disabled; only terminal approval is available")
		return
	}
	if len(tg.AllowFrom) == 0 {
		r.warn("Telegram", "no allowFrom list: anyone can message the bot")
	} else {
		r.pass("Telegram", fmt.Sprintf("%d allowed user(s)", len(tg.AllowFrom)))
	}
	if tg.ApprovalChatID == 0 {
		r.warn("Approval chat", "unset; CLI requests cannot be approved over Telegram")
	}
}
