package approval

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/manifoldco/promptui"

	"ava/internal/domain"
	"ava/internal/security"
)

// TerminalApprover prompts on the controlling terminal. Prompts are
// serialized; concurrent tool calls queue behind the one on screen.
type TerminalApprover struct {
	mu     sync.Mutex
	out    io.Writer
	choose func(ctx context.Context, label string, items []string) (int, error)
}

func NewTerminalApprover() *TerminalApprover {
	return &TerminalApprover{out: os.Stdout, choose: promptSelect}
}

var stdin = &inputPump{src: os.Stdin}

func promptSelect(ctx context.Context, label string, items []string) (int, error) {
	in := stdin.reader(ctx)
	defer in.Close()
	prompt := promptui.Select{
		Label:        label,
		Items:        items,
		Size:         len(items),
		HideSelected: true,
		Stdin:        in,
	}
	idx, _, err := prompt.Run()
	return idx, err
}

// inputPump owns the only goroutine reading src. Prompts borrow it through
// readers that report EOF once their context ends, so a canceled prompt
// returns instead of holding the terminal.
type inputPump struct {
	src    io.Reader
	once   sync.Once
	chunks chan []byte
}

func (p *inputPump) reader(ctx context.Context) *promptReader {
	p.once.Do(func() {
		p.chunks = make(chan []byte)
		go p.run()
	})
	return &promptReader{pump: p, ctx: ctx, closed: make(chan struct{})}
}

func (p *inputPump) run() {
	buf := make([]byte, 256)
	for {
		n, err := p.src.Read(buf)
		if n > 0 {
			p.chunks <- append([]byte(nil), buf[:n]...)
		}
		if err != nil {
			close(p.chunks)
			return
		}
	}
}

type promptReader struct {
	pump      *inputPump
	ctx       context.Context
	closed    chan struct{}
	closeOnce sync.Once
	pending   []byte
}

func (r *promptReader) Read(b []byte) (int, error) {
	if len(r.pending) == 0 {
		select {
		case chunk, ok := <-r.pump.chunks:
			if !ok {
				return 0, io.EOF
			}
			r.pending = chunk
		case <-r.ctx.Done():
			return 0, io.EOF
		case <-r.closed:
			return 0, io.EOF
		}
	}
	n := copy(b, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *promptReader) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

func (a *TerminalApprover) RequestApproval(ctx context.Context, call domain.ToolCall) (domain.ApprovalDecision, error) {
	command := call.StringArg("command")
	sensitive := security.ReferencesSensitiveEnv(command)

	items := []string{"allow once"}
	actions := []string{ActionAllowOnce}
	if !sensitive {
		items = append(items, "allow always")
		actions = append(actions, ActionAllowAlways)
	}
	items = append(items, "deny")
	actions = append(actions, ActionDeny)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return domain.ApprovalDecision{}, err
	}

	fmt.Fprintf(a.out, "[?] %s: %s\n", call.Name, CommandOf(call))
	if sensitive {
		fmt.Fprintln(a.out, "[!] references sensitive environment variables")
	}

	type result struct {
		idx int
		err error
	}
	done := make(chan result, 1)
	go func() {
		idx, err := a.choose(ctx, "Run this command?", items)
		done <- result{idx, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		// The prompt's reader sees EOF and the chooser returns on its own.
		return domain.ApprovalDecision{}, ctx.Err()
	}

	// Interrupt or EOF counts as a refusal.
	if r.err != nil || r.idx < 0 || r.idx >= len(actions) {
		return domain.Deny(), nil
	}
	switch actions[r.idx] {
	case ActionAllowOnce:
		return domain.AllowOnce(), nil
	case ActionAllowAlways:
		return domain.AllowAlways(security.GeneratePattern(command)), nil
	}
	return domain.Deny(), nil
}
