package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"ava/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name     string
	healthy  bool
	chatErr  error
	chatResp *domain.ChatResponse
	calls    int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.calls++
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	return m.chatResp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFailoverProvider_UsesFirstHealthyProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-primary"}}
	p2 := &mockProvider{name: "secondary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-primary" {
		t.Fatalf("expected 'from-primary', got %q", resp.Content)
	}
	if p2.calls != 0 {
		t.Fatalf("secondary should not be called, got %d calls", p2.calls)
	}
}

func TestFailoverProvider_FallsBackOnError(t *testing.T) {
	p1 := &mockProvider{name: "primary", healthy: true, chatErr: errors.New("api error")}
	p2 := &mockProvider{name: "secondary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-secondary" {
		t.Fatalf("expected 'from-secondary', got %q", resp.Content)
	}
}

func TestFailoverProvider_AllProvidersFail(t *testing.T) {
	last := errors.New("fail 2")
	p1 := &mockProvider{name: "p1", healthy: true, chatErr: errors.New("fail 1")}
	p2 := &mockProvider{name: "p2", healthy: true, chatErr: last}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, last) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
}

func TestFailoverProvider_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p1 := &mockProvider{name: "p1", chatErr: context.Canceled}
	p2 := &mockProvider{name: "p2", chatResp: &domain.ChatResponse{Content: "late"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if _, err := fp.Chat(ctx, domain.ChatRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p2.calls != 0 {
		t.Fatal("fallback must not run after cancellation")
	}
}

func TestFailoverProvider_Healthy(t *testing.T) {
	sick := &mockProvider{name: "sick"}
	well := &mockProvider{name: "well", healthy: true}

	if err := NewFailoverProvider([]domain.Provider{sick, well}, testLogger()).Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
	if err := NewFailoverProvider([]domain.Provider{sick}, testLogger()).Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}

func TestFailoverProvider_Name(t *testing.T) {
	fp := NewFailoverProvider([]domain.Provider{&mockProvider{name: "claude"}, &mockProvider{name: "openai"}}, testLogger())
	if name := fp.Name(); name != "failover(claude→openai)" {
		t.Fatalf("expected 'failover(claude→openai)', got %q", name)
	}
}

func TestFailoverProvider_BenchesFailedProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", chatErr: errors.New("down")}
	p2 := &mockProvider{name: "secondary", chatResp: &domain.ChatResponse{Content: "ok"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())
	now := time.Unix(1000, 0)
	fp.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if _, err := fp.Chat(context.Background(), domain.ChatRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	if p1.calls != 1 {
		t.Fatalf("benched primary should be skipped, got %d calls", p1.calls)
	}

	now = now.Add(failoverCooldown + time.Second)
	p1.chatErr = nil
	p1.chatResp = &domain.ChatResponse{Content: "back"}
	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil || resp.Content != "back" {
		t.Fatalf("primary should be retried after cooldown: resp=%+v err=%v", resp, err)
	}
}

func TestFailoverProvider_BenchedProviderStillLastResort(t *testing.T) {
	p1 := &mockProvider{name: "primary", chatErr: errors.New("down")}
	p2 := &mockProvider{name: "secondary", chatErr: errors.New("also down")}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	_, _ = fp.Chat(context.Background(), domain.ChatRequest{})
	p1.chatErr = nil
	p1.chatResp = &domain.ChatResponse{Content: "recovered"}

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil || resp.Content != "recovered" {
		t.Fatalf("resp=%+v err=%v", resp, err)
	}
}
