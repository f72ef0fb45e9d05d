package channel

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/stellarlinkco/pacebot/internal/bus"
	"github.com/stellarlinkco/pacebot/internal/config"
)

// ChannelManager owns the configured transports and routes outbound
// messages and typing indicators to them by name.
type ChannelManager struct {
	bus *bus.MessageBus

	mu       sync.Mutex
	channels map[string]Channel
	started  []string
}

func NewChannelManager(cfg config.ChannelsConfig, host string, b *bus.MessageBus) (*ChannelManager, error) {
	m := &ChannelManager{bus: b, channels: make(map[string]Channel)}

	if cfg.Telegram.Enabled {
		tg, err := NewTelegramChannel(cfg.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("create telegram: %w", err)
		}
		m.Add(tg)
	}
	if cfg.WebUI.Enabled {
		web, err := NewWebUIChannel(cfg.WebUI, host, b)
		if err != nil {
			return nil, fmt.Errorf("create webui: %w", err)
		}
		m.Add(web)
	}
	return m, nil
}

// Add registers ch and subscribes it to outbound messages for its name.
func (m *ChannelManager) Add(ch Channel) {
	m.mu.Lock()
	m.channels[ch.Name()] = ch
	m.mu.Unlock()
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			log.Printf("[channel-mgr] send to %s failed: %v", ch.Name(), err)
		}
	})
}

// StartAll starts channels in name order. If one fails, the channels already
// started are stopped again and the failure is returned.
func (m *ChannelManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.names() {
		log.Printf("[channel-mgr] starting %s", name)
		if err := m.channels[name].Start(ctx); err != nil {
			m.stopStarted()
			return fmt.Errorf("start channel %s: %w", name, err)
		}
		m.started = append(m.started, name)
	}
	return nil
}

// StopAll stops started channels in reverse start order. Stop failures are
// logged; shutdown continues.
func (m *ChannelManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopStarted()
	return nil
}

func (m *ChannelManager) stopStarted() {
	for i := len(m.started) - 1; i >= 0; i-- {
		name := m.started[i]
		if err := m.channels[name].Stop(); err != nil {
			log.Printf("[channel-mgr] stop %s: %v", name, err)
			continue
		}
		log.Printf("[channel-mgr] stopped %s", name)
	}
	m.started = nil
}

// EnabledChannels lists registered channel names, sorted.
func (m *ChannelManager) EnabledChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.names()
}

func (m *ChannelManager) names() []string {
	out := make([]string, 0, len(m.channels))
	for name := range m.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SendTyping routes a typing indicator to the named channel.
func (m *ChannelManager) SendTyping(ctx context.Context, channel string, chatID int64) error {
	m.mu.Lock()
	ch, ok := m.channels[channel]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}
	return ch.SendTyping(ctx, chatID)
}

// BotUsername is the account name reported by a started transport, or
// fallback when none reports one.
func (m *ChannelManager) BotUsername(fallback string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range m.names() {
		if u, ok := m.channels[name].(interface{ Username() string }); ok {
			if n := u.Username(); n != "" {
				return n
			}
		}
	}
	return fallback
}
