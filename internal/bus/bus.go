package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ava/internal/domain"
)

const (
	defaultBufferSize = 100
	publishTimeout    = 10 * time.Second
)

var (
	ErrClosed = errors.New("bus closed")
	ErrFull   = errors.New("inbound bus full")
)

// InMemoryBus connects chat channels to the agent loop. Inbound messages
// queue in a buffered channel; replies are routed synchronously to the
// handler of the channel they are addressed to.
type InMemoryBus struct {
	inbound chan domain.InboundMessage
	done    chan struct{}

	// sendMu is held for reading by publishers so Close can wait for them
	// before closing inbound.
	sendMu    sync.RWMutex
	closeOnce sync.Once

	handlersMu sync.RWMutex
	handlers   map[string]func(domain.OutboundMessage)

	logger *slog.Logger
}

func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, bufferSize),
		done:     make(chan struct{}),
		handlers: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

// Publish enqueues an inbound message. When the buffer is full it waits up
// to publishTimeout for room, returning early if ctx ends or the bus closes.
func (b *InMemoryBus) Publish(ctx context.Context, msg domain.InboundMessage) error {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()

	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.inbound <- msg:
		return nil
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "channel", msg.Channel, "sender", msg.SenderID)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		b.logger.Error("message dropped: bus full", "channel", msg.Channel, "sender", msg.SenderID)
		return ErrFull
	}
}

// Subscribe returns the inbound queue. It is closed by Close.
func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// SendOutbound routes a reply to the handler registered for its channel.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.handlersMu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.handlersMu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", msg.Channel)
		return
	}
	handler(msg)
}

// OnOutbound registers the reply handler for a channel, replacing any
// previous one.
func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.handlersMu.Lock()
	b.handlers[channelName] = handler
	b.handlersMu.Unlock()
}

// Close wakes blocked publishers, then closes the inbound queue. Messages
// already queued stay readable.
func (b *InMemoryBus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.sendMu.Lock()
		close(b.inbound)
		b.sendMu.Unlock()
	})
}
