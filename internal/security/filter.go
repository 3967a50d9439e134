package security

import (
	"fmt"
	"regexp"
	"strings"
)

type denyEntry struct {
	needle string
	reason string
}

// builtinDenyList is scanned before every command. Config can extend it but
// never shrink it.
var builtinDenyList = []denyEntry{
	{"rm -rf /*", "recursive deletion of the root filesystem"},
	{"rm -rf /", "recursive deletion of the root filesystem"},
	{"rm -rf ~", "recursive deletion of the home directory"},
	{"rm -fr /", "recursive deletion of the root filesystem"},
	{"mkfs", "filesystem format"},
	{"dd if=/dev/zero", "raw block device write"},
	{"dd if=/dev/random", "raw block device write"},
	{"dd if=/dev/urandom", "raw block device write"},
	{"of=/dev/sd", "raw block device write"},
	{"of=/dev/nvme", "raw block device write"},
	{"> /dev/sda", "raw block device write"},
	{"chmod -R 777 /", "recursive permission change on the root filesystem"},
	{"mv /* /dev/null", "moving the root filesystem to /dev/null"},
	{":(){ :|:& };:", "fork bomb"},
	{":(){:|:&};:", "fork bomb"},
}

// Filter is the unconditional deny-list check. No approval rule or human
// decision can override it.
type Filter struct {
	extra []*regexp.Regexp
}

// NewFilter builds a filter from the built-in deny list plus extra patterns.
// Extra entries that look like regexes are compiled as such; anything else is
// a case-insensitive substring.
func NewFilter(extra []string) (*Filter, error) {
	compiled, err := compilePatterns(extra)
	if err != nil {
		return nil, fmt.Errorf("invalid blacklist pattern: %w", err)
	}
	return &Filter{extra: compiled}, nil
}

// Check returns the reason the command is blocked, if any.
func (f *Filter) Check(command string) (string, bool) {
	cmd := strings.TrimSpace(command)
	for _, d := range builtinDenyList {
		if strings.Contains(cmd, d.needle) {
			return "blocked: " + d.reason, true
		}
	}
	if f == nil {
		return "", false
	}
	for _, re := range f.extra {
		if re.MatchString(cmd) {
			return "blocked: matches blacklist pattern " + re.String(), true
		}
	}
	return "", false
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		var re *regexp.Regexp
		var err error
		if isRegex(p) {
			re, err = regexp.Compile(p)
		} else {
			re, err = regexp.Compile(`(?i)` + regexp.QuoteMeta(p))
		}
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func isRegex(s string) bool {
	for _, c := range s {
		switch c {
		case '(', ')', '[', ']', '{', '}', '|', '^', '$', '.', '*', '+', '?', '\\':
			return true
		}
	}
	return false
}
