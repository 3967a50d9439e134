package security

import (
	"context"
	"fmt"
	"strings"

	"ava/internal/domain"
)

// RuleRepository is the persistence side of the rule store.
type RuleRepository interface {
	InsertRule(ctx context.Context, pattern string) error
	ListRules(ctx context.Context) ([]domain.ApprovalRule, error)
	DeleteRule(ctx context.Context, id int64) (bool, error)
}

// RuleStore holds allow-always patterns granted by a human.
type RuleStore struct {
	repo RuleRepository
}

func NewRuleStore(repo RuleRepository) *RuleStore {
	return &RuleStore{repo: repo}
}

// Save inserts a pattern. Saving an existing pattern is a no-op.
func (s *RuleStore) Save(ctx context.Context, pattern string) error {
	pattern = strings.Join(strings.Fields(pattern), " ")
	if pattern == "" {
		return fmt.Errorf("save rule: empty pattern")
	}
	if err := s.repo.InsertRule(ctx, pattern); err != nil {
		return fmt.Errorf("save rule %q: %w", pattern, err)
	}
	return nil
}

// List returns all rules in storage order.
func (s *RuleStore) List(ctx context.Context) ([]domain.ApprovalRule, error) {
	return s.repo.ListRules(ctx)
}

// Delete removes a rule by id and reports whether it existed.
func (s *RuleStore) Delete(ctx context.Context, id int64) (bool, error) {
	return s.repo.DeleteRule(ctx, id)
}

// FindMatching returns the id of the first rule, in storage order, whose
// pattern matches the command.
func (s *RuleStore) FindMatching(ctx context.Context, command string) (int64, bool, error) {
	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("list rules: %w", err)
	}
	for _, r := range rules {
		if MatchPattern(r.Pattern, command) {
			return r.ID, true, nil
		}
	}
	return 0, false, nil
}
