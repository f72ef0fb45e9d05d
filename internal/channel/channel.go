package channel

import (
	"context"
	"strings"

	"github.com/stellarlinkco/pacebot/internal/bus"
)

// Channel is a chat transport. SendTyping shows a short-lived "typing…"
// indicator in chatID; transports without one return nil.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
	SendTyping(ctx context.Context, chatID int64) error
}

type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allowed := make(map[string]struct{}, len(allowFrom))
	for _, id := range allowFrom {
		id = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(id), "@"))
		if id != "" {
			allowed[id] = struct{}{}
		}
	}
	return BaseChannel{name: name, bus: b, allowFrom: allowed}
}

func (c *BaseChannel) Name() string {
	return c.name
}

// IsAllowed reports whether any of the sender's identifiers (numeric ID,
// username) is on the allow list. An empty list allows everyone.
func (c *BaseChannel) IsAllowed(ids ...string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	for _, id := range ids {
		id = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(id), "@"))
		if id == "" {
			continue
		}
		if _, ok := c.allowFrom[id]; ok {
			return true
		}
	}
	return false
}
