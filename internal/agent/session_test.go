package agent

import (
	"context"
	"path/filepath"
	"testing"

	"ava/internal/memory"
)

func TestSessionManager_HistoryRoundTrip(t *testing.T) {
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "s.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	sm := NewSessionManager(store, testLogger())
	ctx := context.Background()

	key := SessionKey("telegram", "42")
	id, err := sm.GetOrCreateConversation(ctx, key, "claude", "hello there")
	if err != nil {
		t.Fatal(err)
	}
	again, _ := sm.GetOrCreateConversation(ctx, key, "claude", "ignored")
	if id != again || id != "telegram:42" {
		t.Fatalf("ids differ: %q %q", id, again)
	}

	if err := sm.SaveTurn(ctx, id, "q1", "a1"); err != nil {
		t.Fatal(err)
	}
	if err := sm.SaveTurn(ctx, id, "q2", "a2"); err != nil {
		t.Fatal(err)
	}

	history, err := sm.GetHistory(ctx, id, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 || history[0].Content != "a1" || history[2].Content != "a2" {
		t.Fatalf("history = %+v", history)
	}

	if err := sm.ClearSession(ctx, key); err != nil {
		t.Fatal(err)
	}
	if history, _ := sm.GetHistory(ctx, id, 10); len(history) != 0 {
		t.Fatalf("expected empty history after clear, got %+v", history)
	}
}

func TestGenerateTitle_Normal(t *testing.T) {
	if title := generateTitle("Hello, how are you doing today?"); title != "Hello, how are you doing today?" {
		t.Fatalf("short message should be used as-is, got %q", title)
	}
}

func TestGenerateTitle_Empty(t *testing.T) {
	if title := generateTitle("   "); title != "New conversation" {
		t.Fatalf("expected 'New conversation', got %q", title)
	}
}

func TestGenerateTitle_LongMessage(t *testing.T) {
	long := "This is a very long message that exceeds the sixty character limit and should be truncated with an ellipsis"
	title := generateTitle(long)
	if len(title) > 70 {
		t.Fatalf("title too long: %d chars: %q", len(title), title)
	}
	if title[len(title)-3:] != "..." {
		t.Fatalf("expected ellipsis at end, got %q", title)
	}
}

func TestGenerateTitle_Multiline(t *testing.T) {
	if title := generateTitle("First line\nSecond line"); title != "First line" {
		t.Fatalf("expected only first line, got %q", title)
	}
}
