package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"ava/internal/domain"
)

// CLIChatID is the chat id of the local terminal session.
const CLIChatID = "local"

// CLI is the interactive terminal chat. It waits for each reply before
// reading the next line, so a terminal approval prompt can own stdin while a
// message is in flight.
type CLI struct {
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	replies chan domain.OutboundMessage
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		replies: make(chan domain.OutboundMessage, 1),
	}
}

func (c *CLI) Name() string { return domain.ChannelCLI }

// Start runs the REPL and blocks until EOF, /quit or ctx is canceled.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	bus.OnOutbound(domain.ChannelCLI, func(msg domain.OutboundMessage) {
		c.replies <- msg
	})

	fmt.Fprintln(c.out, "Ava CLI. Type your message and press Enter. Type /quit to exit.")

	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, "you> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		err := bus.Publish(ctx, domain.InboundMessage{
			Channel:  domain.ChannelCLI,
			ChatID:   CLIChatID,
			SenderID: "user",
			Content:  line,
		})
		if err != nil {
			return fmt.Errorf("publish: %w", err)
		}

		select {
		case msg := <-c.replies:
			c.print(msg.Content)
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	c.print(content)
	return nil
}

func (c *CLI) print(content string) {
	fmt.Fprintln(c.out, "ava> "+content)
}
