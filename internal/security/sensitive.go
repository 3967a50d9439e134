package security

import (
	"regexp"
	"strings"
)

// sensitiveEnvNames are credential variables known to this process or common
// in developer environments.
var sensitiveEnvNames = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"TELOXIDE_TOKEN",
	"TELEGRAM_BOT_TOKEN",
	"BRAVE_API_KEY",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_ACCESS_KEY_ID",
	"AWS_SESSION_TOKEN",
	"GITHUB_TOKEN",
	"GH_TOKEN",
	"NPM_TOKEN",
	"DATABASE_URL",
}

var sensitiveNameParts = []string{"TOKEN", "SECRET", "PASSWORD", "PASSWD", "API_KEY", "PRIVATE_KEY", "CREDENTIAL"}

var envRefPattern = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)`)

// ReferencesSensitiveEnv reports whether a command names a credential
// environment variable, either literally or through a $VAR expansion whose
// name looks like a secret.
func ReferencesSensitiveEnv(command string) bool {
	for _, name := range sensitiveEnvNames {
		if strings.Contains(command, name) {
			return true
		}
	}
	for _, m := range envRefPattern.FindAllStringSubmatch(command, -1) {
		upper := strings.ToUpper(m[1])
		for _, part := range sensitiveNameParts {
			if strings.Contains(upper, part) {
				return true
			}
		}
	}
	return false
}
