package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:             "~/.ava/workspace",
			LogLevel:              "info",
			MaxRounds:             5,
			DefaultProvider:       "claude",
			MaxConcurrentMessages: 5,
		},
		Providers: map[string]ProviderConfig{
			"claude": {
				Enabled:      true,
				DefaultModel: "claude-sonnet-4-5",
				MaxTokens:    4096,
			},
		},
		Memory: MemoryConfig{
			DBPath:     "./ava.db",
			MaxHistory: 20,
		},
		Security: SecurityConfig{
			Approver:               "interactive",
			ApprovalTimeoutSeconds: 300,
			AuditLog:               true,
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{Timeout: 30},
		},
	}
}
