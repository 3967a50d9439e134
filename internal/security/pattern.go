package security

import "strings"

// Wildcard is the pattern token that matches any single command token, or
// the remainder of the command when it is the last token.
const Wildcard = "*"

// SplitCommand splits a shell command on chain, pipe and background
// operators (||, &&, ;, |, &) and on newlines. A & that belongs to a
// redirection (2>&1, &>file) does not split. Blank segments are dropped; a
// blank command yields a single empty segment.
func SplitCommand(command string) []string {
	var segments []string
	start := 0
	for i := 0; i < len(command); i++ {
		switch c := command[i]; c {
		case '|', '&':
			if i+1 < len(command) && command[i+1] == c {
				segments = appendSegment(segments, command[start:i])
				i++
				start = i + 1
				continue
			}
			if c == '&' && isRedirect(command, i) {
				continue
			}
			segments = appendSegment(segments, command[start:i])
			start = i + 1
		case ';', '\n':
			segments = appendSegment(segments, command[start:i])
			start = i + 1
		}
	}
	segments = appendSegment(segments, command[start:])
	if len(segments) == 0 {
		return []string{""}
	}
	return segments
}

// isRedirect reports whether the & at i is part of >&, <& or &>.
func isRedirect(command string, i int) bool {
	if i > 0 && (command[i-1] == '>' || command[i-1] == '<') {
		return true
	}
	return i+1 < len(command) && command[i+1] == '>'
}

func appendSegment(segments []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return segments
	}
	return append(segments, s)
}

// MatchPattern reports whether pattern matches every sub-command of command.
// A chained command is only as trusted as its least-trusted segment.
func MatchPattern(pattern, command string) bool {
	patternTokens := strings.Fields(pattern)
	for _, segment := range SplitCommand(command) {
		if !matchTokens(patternTokens, strings.Fields(segment)) {
			return false
		}
	}
	return true
}

func matchTokens(pattern, command []string) bool {
	for i, p := range pattern {
		if p == Wildcard && i == len(pattern)-1 {
			return true
		}
		if i >= len(command) {
			return false
		}
		if p == Wildcard {
			continue
		}
		if p != command[i] {
			return false
		}
	}
	return len(pattern) == len(command)
}

// GeneratePattern builds the allow-always rule for a command: the executable
// name followed by a trailing wildcard. A blank command yields an empty
// pattern, which only matches a blank command.
func GeneratePattern(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0] + " " + Wildcard
}
