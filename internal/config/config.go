package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration for ava.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Channels  ChannelsConfig            `json:"channels"`
	Memory    MemoryConfig              `json:"memory"`
	Security  SecurityConfig            `json:"security"`
	Tools     ToolsConfig               `json:"tools"`
}

type GeneralConfig struct {
	Workspace             string `json:"workspace"`
	LogLevel              string `json:"logLevel"`
	MaxRounds             int    `json:"maxRounds"`
	DefaultProvider       string `json:"defaultProvider"`
	FallbackProvider      string `json:"fallbackProvider,omitempty"`
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
	SystemPromptExtra     string `json:"systemPromptExtra,omitempty"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
	MaxTokens    int    `json:"maxTokens,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	// ApprovalChatID receives approval prompts for messages that do not
	// originate in a Telegram chat. Zero means "the chat the message came from".
	ApprovalChatID int64          `json:"approvalChatId,omitempty"`
	AllowFrom      FlexStringList `json:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type MemoryConfig struct {
	DBPath     string `json:"dbPath"`
	MaxHistory int    `json:"maxHistory"`
}

type SecurityConfig struct {
	// Approver is "interactive" (ask a human) or "auto" (approve everything
	// the safety filter lets through).
	Approver               string   `json:"approver"`
	ExtraBlacklist         []string `json:"extraBlacklist,omitempty"`
	ApprovalTimeoutSeconds int      `json:"approvalTimeoutSeconds"`
	AuditLog               bool     `json:"auditLog"`
}

type ToolsConfig struct {
	Shell ShellToolConfig `json:"shell"`
	Web   WebToolConfig   `json:"web"`
}

type ShellToolConfig struct {
	Timeout int `json:"timeout"`
}

type WebToolConfig struct {
	SearchAPIKey string `json:"searchApiKey,omitempty"`
}

// envOverrides are read after the config file and win over it when set.
type envOverrides struct {
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	TelegramToken   string `envconfig:"TELOXIDE_TOKEN"`
	TelegramChatID  int64  `envconfig:"TELEGRAM_CHAT_ID"`
	DBPath          string `envconfig:"AVA_DB_PATH"`
	BraveAPIKey     string `envconfig:"BRAVE_API_KEY"`
	Provider        string `envconfig:"AVA_PROVIDER"`
	LogLevel        string `envconfig:"AVA_LOG_LEVEL"`
}

// DefaultConfigDir returns the default config directory (~/.ava).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ava"
	}
	return filepath.Join(home, ".ava")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file at path, then applies .env and environment
// overrides. A missing file is not an error: defaults plus environment are
// enough to run.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	_ = godotenv.Load(".env")

	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		data = []byte(ExpandEnvVars(string(data)))
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to process env vars: %w", err)
	}

	setKey := func(name, key string) {
		if key == "" {
			return
		}
		pc := cfg.Providers[name]
		pc.APIKey = key
		pc.Enabled = true
		cfg.Providers[name] = pc
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	setKey("claude", env.AnthropicAPIKey)
	setKey("openai", env.OpenAIAPIKey)

	if env.TelegramToken != "" {
		cfg.Channels.Telegram.Token = env.TelegramToken
		cfg.Channels.Telegram.Enabled = true
	}
	if env.TelegramChatID != 0 {
		cfg.Channels.Telegram.ApprovalChatID = env.TelegramChatID
	}
	if env.DBPath != "" {
		cfg.Memory.DBPath = env.DBPath
	}
	if env.BraveAPIKey != "" {
		cfg.Tools.Web.SearchAPIKey = env.BraveAPIKey
	}
	if env.Provider != "" {
		cfg.General.DefaultProvider = env.Provider
	}
	if env.LogLevel != "" {
		cfg.General.LogLevel = env.LogLevel
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset ${VAR}
// without a default is left as is.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]
		hasDefault := strings.Contains(match, ":-")

		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file can hold API keys.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxRounds < 1 || cfg.General.MaxRounds > 50 {
		errs = append(errs, "general.maxRounds must be between 1 and 50")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	}
	if fb := cfg.General.FallbackProvider; fb != "" {
		if _, ok := cfg.Providers[fb]; !ok {
			errs = append(errs, fmt.Sprintf("general.fallbackProvider references unknown provider: %s", fb))
		}
	}
	for name := range cfg.Providers {
		if name != "claude" && name != "openai" {
			errs = append(errs, fmt.Sprintf("providers.%s: unsupported provider (claude, openai)", name))
		}
	}

	if cfg.Memory.DBPath == "" {
		errs = append(errs, "memory.dbPath is required")
	}
	if cfg.Memory.MaxHistory < 0 {
		errs = append(errs, "memory.maxHistory must be >= 0")
	}

	switch cfg.Security.Approver {
	case "interactive", "auto":
	default:
		errs = append(errs, "security.approver must be one of: interactive, auto")
	}
	if cfg.Security.ApprovalTimeoutSeconds < 1 {
		errs = append(errs, "security.approvalTimeoutSeconds must be >= 1")
	}
	if cfg.Tools.Shell.Timeout < 1 || cfg.Tools.Shell.Timeout > 300 {
		errs = append(errs, "tools.shell.timeout must be between 1 and 300")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
