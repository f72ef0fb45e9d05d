package bus

import (
	"context"
	"log"
	"sync"
)

type OutboundHandler func(OutboundMessage)

// MessageBus decouples transports from the gateway. Inbound is drained by the
// gateway; Outbound is fanned out to the subscriber registered for the
// message's channel.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]OutboundHandler
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize < 0 {
		bufSize = 0
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string]OutboundHandler),
	}
}

// SubscribeOutbound registers the sender for a channel, replacing any previous one.
func (b *MessageBus) SubscribeOutbound(channel string, h OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = h
}

// PublishInbound hands msg to the gateway, giving up when ctx is done.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) bool {
	select {
	case b.Inbound <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) bool {
	select {
	case b.Outbound <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// DispatchOutbound delivers outbound messages until ctx is done.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			h, ok := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if !ok {
				log.Printf("[bus] no subscriber for channel %q, dropping message to chat %d", msg.Channel, msg.ChatID)
				continue
			}
			h(msg)
		case <-ctx.Done():
			return
		}
	}
}
