package bus

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"ava/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	msg := domain.InboundMessage{Channel: domain.ChannelCLI, ChatID: "local", Content: "hi"}

	if err := b.Publish(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-b.Subscribe():
		if got.Content != "hi" {
			t.Fatalf("content = %q", got.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	b := New(1, testLogger())
	b.Close()
	b.Close()

	if err := b.Publish(context.Background(), domain.InboundMessage{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("subscription channel should be closed")
	}
}

func TestBus_PublishFullRespectsContext(t *testing.T) {
	b := New(1, testLogger())
	if err := b.Publish(context.Background(), domain.InboundMessage{Content: "first"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Publish(ctx, domain.InboundMessage{Content: "second"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestBus_SendOutboundRoutesByChannel(t *testing.T) {
	b := New(1, testLogger())
	var got []domain.OutboundMessage
	b.OnOutbound(domain.ChannelTelegram, func(m domain.OutboundMessage) { got = append(got, m) })

	b.SendOutbound(domain.OutboundMessage{Channel: domain.ChannelTelegram, ChatID: "42", Content: "reply"})
	b.SendOutbound(domain.OutboundMessage{Channel: "nowhere", Content: "dropped"})

	if len(got) != 1 || got[0].ChatID != "42" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func TestBus_CloseWakesBlockedPublisher(t *testing.T) {
	b := New(1, testLogger())
	if err := b.Publish(context.Background(), domain.InboundMessage{Content: "first"}); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- b.Publish(context.Background(), domain.InboundMessage{Content: "second"}) }()

	time.Sleep(20 * time.Millisecond)
	closed := make(chan struct{})
	go func() {
		b.Close()
		close(closed)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after Close")
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}

	if got, ok := <-b.Subscribe(); !ok || got.Content != "first" {
		t.Fatalf("queued message lost: %+v ok=%v", got, ok)
	}
}
