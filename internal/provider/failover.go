package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ava/internal/domain"
)

// failoverCooldown is how long a failed provider is skipped by later turns.
const failoverCooldown = time.Minute

// FailoverProvider tries providers in order. A provider that fails is benched
// for a cooldown so later turns skip straight to the next one instead of
// paying for its retries again; benched providers are still tried last.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
	cooldown  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	benched map[int]time.Time // index -> benched until
}

func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{
		providers: providers,
		logger:    logger,
		cooldown:  failoverCooldown,
		now:       time.Now,
		benched:   make(map[int]time.Time),
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range fp.providers {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return fmt.Errorf("no healthy provider in failover chain: %w", errors.Join(errs...))
}

// order returns provider indexes with benched providers moved to the end.
func (fp *FailoverProvider) order() []int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	now := fp.now()
	ready := make([]int, 0, len(fp.providers))
	var benched []int
	for i := range fp.providers {
		if until, ok := fp.benched[i]; ok && now.Before(until) {
			benched = append(benched, i)
			continue
		}
		delete(fp.benched, i)
		ready = append(ready, i)
	}
	return append(ready, benched...)
}

func (fp *FailoverProvider) bench(i int) {
	fp.mu.Lock()
	fp.benched[i] = fp.now().Add(fp.cooldown)
	fp.mu.Unlock()
}

func (fp *FailoverProvider) reinstate(i int) {
	fp.mu.Lock()
	delete(fp.benched, i)
	fp.mu.Unlock()
}

// Chat returns the first successful response. A canceled context stops the
// chain without benching anyone.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var lastErr error
	for attempt, i := range fp.order() {
		p := fp.providers[i]
		resp, err := p.Chat(ctx, req)
		if err == nil {
			fp.reinstate(i)
			if attempt > 0 {
				fp.logger.Info("failover: used fallback provider", "provider", p.Name(), "attempt", attempt+1)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		fp.bench(i)
		fp.logger.Warn("failover: provider failed, trying next", "provider", p.Name(), "attempt", attempt+1, "err", err)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}
