package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// tree is the generic JSON view of a Config that dot paths walk.
type tree = map[string]any

func toTree(cfg *Config) (tree, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var t tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "general.workspace").
func GetByPath(cfg *Config, path string) (any, error) {
	t, err := toTree(cfg)
	if err != nil {
		return nil, err
	}

	var current any = t
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case tree:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path. A string value is
// converted to the type of the value it replaces, so "123" stays a string
// for string settings; list settings take comma-separated items. Missing
// intermediate keys are created, which is how a new provider entry is added.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	t, err := toTree(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := t
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok || child == nil {
			next := make(tree)
			parent[key] = next
			parent = next
			continue
		}
		next, ok := child.(tree)
		if !ok {
			return fmt.Errorf("cannot traverse into %T at %s", child, key)
		}
		parent = next
	}

	leaf := parts[len(parts)-1]
	converted, err := coerce(parent[leaf], value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	parent[leaf] = converted

	next, err := fromTree(t)
	if err != nil {
		// An unset optional field has no type to go by; a guessed number
		// may still have been meant as text.
		s, isString := value.(string)
		if !isString || converted == s {
			return fmt.Errorf("%s: %w", path, err)
		}
		parent[leaf] = s
		if next, err = fromTree(t); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	*cfg = *next
	return nil
}

func fromTree(t tree) (*Config, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// coerce converts a string to the JSON type of current. Non-string values
// pass through.
func coerce(current, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	switch current.(type) {
	case string:
		return s, nil
	case bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", s)
		}
		return b, nil
	case float64:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", s)
		}
		return f, nil
	case []any:
		items := []any{}
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	}
	return guess(s), nil
}

// guess types a value for a key the config does not currently hold.
func guess(s string) any {
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

// Sanitize returns a copy of the config with secrets masked, for display.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Providers = make(map[string]ProviderConfig, len(cfg.Providers))
	for name, prov := range cfg.Providers {
		if prov.APIKey != "" {
			prov.APIKey = maskString(prov.APIKey)
		}
		out.Providers[name] = prov
	}
	if out.Channels.Telegram.Token != "" {
		out.Channels.Telegram.Token = maskString(out.Channels.Telegram.Token)
	}
	if out.Tools.Web.SearchAPIKey != "" {
		out.Tools.Web.SearchAPIKey = maskString(out.Tools.Web.SearchAPIKey)
	}
	return &out
}

// maskString keeps the first and last four characters of long secrets.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path with its current value.
func ListPaths(cfg *Config) map[string]any {
	t, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, node tree)
	walk = func(prefix string, node tree) {
		for k, v := range node {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if sub, ok := v.(tree); ok {
				walk(path, sub)
				continue
			}
			out[path] = v
		}
	}
	walk("", t)
	return out
}
