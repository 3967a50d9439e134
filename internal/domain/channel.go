package domain

import "context"

// Channel is a user-facing surface (terminal, Telegram) that feeds the agent.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Send(ctx context.Context, chatID string, content string) error
}

// MessageBus carries inbound messages to the agent loop and routes replies
// back to the channel that produced them.
type MessageBus interface {
	Publish(ctx context.Context, msg InboundMessage) error
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}
