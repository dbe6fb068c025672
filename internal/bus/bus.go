// Package bus carries inbound channel messages to the follow-up queue.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// MessageBus is an in-process MessageRouter backed by a buffered channel.
type MessageBus struct {
	inbound chan InboundMessage

	mu     sync.RWMutex
	closed bool
}

// New creates a MessageBus buffering up to size inbound messages.
func New(size int) *MessageBus {
	return &MessageBus{inbound: make(chan InboundMessage, max(0, size))}
}

// PublishInbound queues msg, blocking while the buffer is full. It returns
// false once the bus is closed or ctx is done.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		slog.Warn("bus: publish after close", "channel", msg.Channel, "chat_id", msg.ChatID)
		return false
	}
	select {
	case b.inbound <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// ConsumeInbound returns the next message. ok is false when ctx is done or
// the bus is closed and drained.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-b.inbound:
		return msg, ok
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// Close stops accepting messages. Buffered messages can still be consumed.
func (b *MessageBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}

var _ MessageRouter = (*MessageBus)(nil)
