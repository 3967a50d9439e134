package domain

import "time"

// Channel tags for inbound messages.
const (
	ChannelCLI      = "cli"
	ChannelTelegram = "telegram"
)

type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Timestamp time.Time
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}
