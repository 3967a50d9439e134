package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ava/internal/approval"
	"ava/internal/bus"
	"ava/internal/domain"
	"ava/internal/memory"
	"ava/internal/security"
	"ava/internal/tool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedProvider answers each Chat call with respond(n), n counting from 0,
// and keeps a copy of every request.
type scriptedProvider struct {
	mu       sync.Mutex
	respond  func(n int) *domain.ChatResponse
	requests []domain.ChatRequest
}

func (p *scriptedProvider) Name() string                  { return "scripted" }
func (p *scriptedProvider) Healthy(context.Context) error { return nil }

func (p *scriptedProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req.Messages = append([]domain.Message(nil), req.Messages...)
	n := len(p.requests)
	p.requests = append(p.requests, req)
	return p.respond(n), nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(n int) domain.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[n]
}

// toolsThen requests calls on the first turn and answers text afterwards.
func toolsThen(text string, calls ...domain.ToolCall) func(int) *domain.ChatResponse {
	return func(n int) *domain.ChatResponse {
		if n == 0 {
			return &domain.ChatResponse{ToolCalls: calls}
		}
		return &domain.ChatResponse{Content: text}
	}
}

// fakeShell is a gated tool that records commands instead of running them.
type fakeShell struct {
	mu  sync.Mutex
	ran []string
}

func (s *fakeShell) Name() string               { return "shell" }
func (s *fakeShell) Description() string        { return "run a command" }
func (s *fakeShell) Parameters() map[string]any { return map[string]any{"type": "object"} }

func (s *fakeShell) GatedCommand(args map[string]any) string {
	return tool.ArgsString(args, "command")
}

func (s *fakeShell) Execute(_ context.Context, args map[string]any) (string, error) {
	if d, ok := tool.ArgsInt(args, "delay_ms"); ok && d > 0 {
		time.Sleep(time.Duration(d) * time.Millisecond)
	}
	cmd := tool.ArgsString(args, "command")
	s.mu.Lock()
	s.ran = append(s.ran, cmd)
	s.mu.Unlock()
	return "ran: " + cmd, nil
}

func (s *fakeShell) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ran...)
}

type stubApprover struct {
	decision domain.ApprovalDecision
	err      error
	calls    atomic.Int32
	chatID   atomic.Int64
}

func (a *stubApprover) RequestApproval(ctx context.Context, _ domain.ToolCall) (domain.ApprovalDecision, error) {
	a.calls.Add(1)
	if id, ok := approval.ChatIDFrom(ctx); ok {
		a.chatID.Store(id)
	}
	return a.decision, a.err
}

type harness struct {
	loop     *Loop
	provider *scriptedProvider
	shell    *fakeShell
	approver *stubApprover
	store    *memory.SQLiteStore
	rules    *security.RuleStore
}

func newHarness(t *testing.T, respond func(int) *domain.ChatResponse, decision domain.ApprovalDecision) *harness {
	t.Helper()
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "ava.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := &harness{
		provider: &scriptedProvider{respond: respond},
		shell:    &fakeShell{},
		approver: &stubApprover{decision: decision},
		store:    store,
		rules:    security.NewRuleStore(store),
	}

	filter, err := security.NewFilter(nil)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := security.NewEngine(security.EngineConfig{
		Filter:   filter,
		Rules:    h.rules,
		Approver: h.approver,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	tools := tool.NewRegistry(testLogger())
	tools.Register(h.shell)
	tools.Register(tool.NewRememberFactTool(store))

	h.loop, err = NewLoop(LoopConfig{
		Provider: h.provider,
		Sessions: NewSessionManager(store, testLogger()),
		Prompt:   NewPromptBuilder(PromptConfig{Facts: store, Logger: testLogger()}),
		Tools:    tools,
		Security: engine,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func shellCall(id, cmd string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: "shell", Arguments: map[string]any{"command": cmd}}
}

func cliMessage(text string) domain.InboundMessage {
	return domain.InboundMessage{Channel: domain.ChannelCLI, ChatID: "local", SenderID: "user", Content: text}
}

// toolResults returns the tool messages of a request.
func toolResults(req domain.ChatRequest) []domain.Message {
	var out []domain.Message
	for _, m := range req.Messages {
		if m.Role == "tool" {
			out = append(out, m)
		}
	}
	return out
}

func TestNewLoop_RequiresCollaborators(t *testing.T) {
	if _, err := NewLoop(LoopConfig{}); err == nil {
		t.Fatal("expected error without provider")
	}
}

func TestProcess_PlainReply(t *testing.T) {
	h := newHarness(t, func(int) *domain.ChatResponse { return &domain.ChatResponse{Content: "hello"} }, domain.AutoApproved())

	reply, err := h.loop.Process(context.Background(), cliMessage("hi"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply != "hello" {
		t.Fatalf("reply = %q", reply)
	}
	if h.approver.calls.Load() != 0 {
		t.Fatal("no approval expected without tool calls")
	}
}

func TestProcess_EmptyReplyGetsPlaceholder(t *testing.T) {
	h := newHarness(t, func(int) *domain.ChatResponse { return &domain.ChatResponse{} }, domain.AutoApproved())

	reply, err := h.loop.Process(context.Background(), cliMessage("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if reply != emptyReply {
		t.Fatalf("reply = %q", reply)
	}
}

func TestProcess_RoundLimit(t *testing.T) {
	h := newHarness(t, func(n int) *domain.ChatResponse {
		return &domain.ChatResponse{ToolCalls: []domain.ToolCall{shellCall(fmt.Sprintf("c%d", n), "echo again")}}
	}, domain.AutoApproved())

	_, err := h.loop.Process(context.Background(), cliMessage("loop forever"))
	if !errors.Is(err, ErrMaxRounds) {
		t.Fatalf("expected ErrMaxRounds, got %v", err)
	}
	if got := h.provider.calls(); got != 6 {
		t.Fatalf("expected 6 model turns, got %d", got)
	}
	if got := len(h.shell.commands()); got != 5 {
		t.Fatalf("expected 5 executed rounds, got %d", got)
	}
}

func TestProcess_StoredRuleSkipsApproval(t *testing.T) {
	h := newHarness(t, toolsThen("built", shellCall("c1", "cargo build --release")), domain.Deny())
	if err := h.rules.Save(context.Background(), "cargo *"); err != nil {
		t.Fatal(err)
	}

	if _, err := h.loop.Process(context.Background(), cliMessage("build it")); err != nil {
		t.Fatal(err)
	}
	if h.approver.calls.Load() != 0 {
		t.Fatal("approver should not be consulted when a rule matches")
	}
	if cmds := h.shell.commands(); len(cmds) != 1 || cmds[0] != "cargo build --release" {
		t.Fatalf("commands = %v", cmds)
	}
}

func TestProcess_BlockedCommandNeverRuns(t *testing.T) {
	h := newHarness(t, toolsThen("ok", shellCall("c1", "rm -rf /")), domain.AutoApproved())

	if _, err := h.loop.Process(context.Background(), cliMessage("clean up")); err != nil {
		t.Fatal(err)
	}
	if len(h.shell.commands()) != 0 {
		t.Fatal("blocked command must not run")
	}
	if h.approver.calls.Load() != 0 {
		t.Fatal("blocked command must not reach the approver")
	}
	results := toolResults(h.provider.request(1))
	if len(results) != 1 || !strings.HasPrefix(results[0].Content, "blocked:") {
		t.Fatalf("unexpected tool results %+v", results)
	}
}

func TestProcess_DeniedCommand(t *testing.T) {
	h := newHarness(t, toolsThen("fine", shellCall("c1", "curl example.com")), domain.Deny())

	if _, err := h.loop.Process(context.Background(), cliMessage("fetch")); err != nil {
		t.Fatal(err)
	}
	if len(h.shell.commands()) != 0 {
		t.Fatal("denied command must not run")
	}
	results := toolResults(h.provider.request(1))
	if len(results) != 1 || results[0].Content != security.DeniedResult {
		t.Fatalf("unexpected tool results %+v", results)
	}
	if results[0].ToolCallID != "c1" {
		t.Fatalf("result not tied to call: %+v", results[0])
	}
}

func TestProcess_AllowAlwaysCoversNextMessage(t *testing.T) {
	var turn atomic.Int32
	h := newHarness(t, func(n int) *domain.ChatResponse {
		if n%2 == 0 {
			cmd := "cargo build"
			if turn.Add(1) == 2 {
				cmd = "cargo test"
			}
			return &domain.ChatResponse{ToolCalls: []domain.ToolCall{shellCall("c", cmd)}}
		}
		return &domain.ChatResponse{Content: "done"}
	}, domain.AllowAlways("cargo *"))

	if _, err := h.loop.Process(context.Background(), cliMessage("build")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.loop.Process(context.Background(), cliMessage("test")); err != nil {
		t.Fatal(err)
	}
	if got := h.approver.calls.Load(); got != 1 {
		t.Fatalf("expected one approval prompt, got %d", got)
	}
	rules, err := h.rules.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].Pattern != "cargo *" {
		t.Fatalf("rules = %+v", rules)
	}
	if cmds := h.shell.commands(); len(cmds) != 2 {
		t.Fatalf("commands = %v", cmds)
	}
}

func TestProcess_ResultsKeepRequestOrder(t *testing.T) {
	slow := shellCall("first", "echo slow")
	slow.Arguments["delay_ms"] = 80
	mid := shellCall("second", "echo mid")
	mid.Arguments["delay_ms"] = 40
	fast := shellCall("third", "echo fast")

	h := newHarness(t, toolsThen("ok", slow, mid, fast), domain.AutoApproved())
	if _, err := h.loop.Process(context.Background(), cliMessage("go")); err != nil {
		t.Fatal(err)
	}

	results := toolResults(h.provider.request(1))
	want := []string{"first", "second", "third"}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(results))
	}
	for i, id := range want {
		if results[i].ToolCallID != id {
			t.Fatalf("result %d is %s, want %s", i, results[i].ToolCallID, id)
		}
	}
	if results[0].Content != "ran: echo slow" {
		t.Fatalf("content mismatch: %q", results[0].Content)
	}
}

func TestProcess_ApprovalTimeoutEndsTurn(t *testing.T) {
	h := newHarness(t, toolsThen("unreachable", shellCall("c1", "make")), domain.ApprovalDecision{})
	h.approver.err = approval.ErrTimeout

	_, err := h.loop.Process(context.Background(), cliMessage("make"))
	if !errors.Is(err, approval.ErrTimeout) {
		t.Fatalf("expected approval timeout, got %v", err)
	}
	if h.provider.calls() != 1 {
		t.Fatal("model must not be called again after a timeout")
	}
}

func TestProcess_UngatedToolSkipsApproval(t *testing.T) {
	fact := domain.ToolCall{ID: "f1", Name: "remember_fact", Arguments: map[string]any{
		"category": "user", "key": "name", "value": "Sam",
	}}
	h := newHarness(t, toolsThen("noted", fact), domain.Deny())

	if _, err := h.loop.Process(context.Background(), cliMessage("I'm Sam")); err != nil {
		t.Fatal(err)
	}
	if h.approver.calls.Load() != 0 {
		t.Fatal("remember_fact is not gated")
	}
	facts, err := h.store.RecentFacts(context.Background(), 10)
	if err != nil || len(facts) != 1 || facts[0].Value != "Sam" {
		t.Fatalf("facts = %+v err = %v", facts, err)
	}
}

func TestProcess_PromptCarriesFactsAndHistory(t *testing.T) {
	h := newHarness(t, func(n int) *domain.ChatResponse {
		return &domain.ChatResponse{Content: fmt.Sprintf("reply %d", n)}
	}, domain.AutoApproved())
	ctx := context.Background()
	if err := h.store.RememberFact(ctx, domain.Fact{Category: "pets", Key: "dog", Value: "Rex"}); err != nil {
		t.Fatal(err)
	}

	h.loop.Process(ctx, cliMessage("first"))
	h.loop.Process(ctx, cliMessage("second"))

	req := h.provider.request(1)
	if !strings.Contains(req.System, "## Remembered facts") || !strings.Contains(req.System, "- dog: Rex") {
		t.Fatalf("facts missing from system prompt:\n%s", req.System)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("expected history + new message, got %+v", req.Messages)
	}
	if req.Messages[0].Content != "first" || req.Messages[1].Content != "reply 0" {
		t.Fatalf("history out of order: %+v", req.Messages)
	}
}

func TestProcess_TelegramRoutesApprovalToChat(t *testing.T) {
	h := newHarness(t, toolsThen("ok", shellCall("c1", "uptime")), domain.AllowOnce())

	msg := domain.InboundMessage{Channel: domain.ChannelTelegram, ChatID: "12345", Content: "uptime?"}
	if _, err := h.loop.Process(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if got := h.approver.chatID.Load(); got != 12345 {
		t.Fatalf("approval chat = %d", got)
	}
}

func TestRun_RepliesThroughBus(t *testing.T) {
	h := newHarness(t, func(int) *domain.ChatResponse { return &domain.ChatResponse{Content: "pong"} }, domain.AutoApproved())
	b := bus.New(4, testLogger())
	h.loop.bus = b

	replies := make(chan domain.OutboundMessage, 1)
	b.OnOutbound(domain.ChannelCLI, func(m domain.OutboundMessage) { replies <- m })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.loop.Run(ctx)

	if err := b.Publish(ctx, cliMessage("ping")); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-replies:
		if m.Content != "pong" || m.ChatID != "local" {
			t.Fatalf("unexpected reply %+v", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply")
	}
}
