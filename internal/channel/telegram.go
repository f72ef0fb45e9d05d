package channel

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/stellarlinkco/pacebot/internal/bus"
	"github.com/stellarlinkco/pacebot/internal/config"
)

const (
	telegramChannelName = "telegram"
	// Telegram rejects messages over 4096 characters; leave room for HTML escapes.
	telegramChunkRunes = 3500
	sendWaitTimeout    = 30 * time.Second
	// Long polling holds a request for updateTimeout seconds; the client
	// timeout must outlast it.
	updateTimeout     = 30
	httpClientTimeout = (updateTimeout + 15) * time.Second
	typingTimeout     = 5 * time.Second
)

// TelegramBot is the slice of tgbotapi.BotAPI the channel uses.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token      string
	proxy      string
	botFactory BotFactory
	limiter    *rate.Limiter
	cancel     context.CancelFunc
	// typingTimeout bounds one chat action request.
	typingTimeout time.Duration

	mu   sync.RWMutex
	bot  TelegramBot
	self tgbotapi.User
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		botFactory:  factory,
		limiter:     newSendLimiter(cfg.SendRatePerSecond, cfg.SendBurst),

		typingTimeout: typingTimeout,
	}, nil
}

// newSendLimiter returns an unlimited limiter when perSecond is not positive.
func newSendLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 || math.IsInf(perSecond, 1) {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (t *TelegramChannel) initBot() error {
	client := &http.Client{Timeout: httpClientTimeout}
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.SetBot(bot)
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

// SetBot installs bot directly, bypassing the factory.
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bot = bot
	t.self = bot.GetSelf()
}

func (t *TelegramChannel) currentBot() (TelegramBot, tgbotapi.User) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bot, t.self
}

// Username is the bot account's @name without the @, empty before Start.
func (t *TelegramChannel) Username() string {
	_, self := t.currentBot()
	return self.UserName
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}

	ctx, t.cancel = context.WithCancel(ctx)
	bot, _ := t.currentBot()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout
	updates := bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				t.handleMessage(ctx, update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	_, self := t.currentBot()
	if msg.From.IsBot || (self.ID != 0 && msg.From.ID == self.ID) {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.IsAllowed(senderID, msg.From.UserName) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	content := msg.Text
	entities := msg.Entities
	if content == "" {
		content = msg.Caption
		entities = msg.CaptionEntities
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	in := bus.InboundMessage{
		Channel:               telegramChannelName,
		MessageID:             msg.MessageID,
		SenderID:              msg.From.ID,
		ChatID:                msg.Chat.ID,
		Username:              msg.From.UserName,
		DisplayName:           strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		Content:               content,
		Timestamp:             time.Unix(int64(msg.Date), 0),
		IsPrivateChat:         msg.Chat.IsPrivate(),
		IsReplyToAgent:        isReplyTo(msg, self),
		MentionsAgentUsername: mentionedSelf(content, entities, self),
	}
	if msg.Date == 0 {
		in.Timestamp = time.Now()
	}

	if !t.bus.PublishInbound(ctx, in) {
		log.Printf("[telegram] dropped message %d: shutting down", msg.MessageID)
	}
}

func isReplyTo(msg *tgbotapi.Message, self tgbotapi.User) bool {
	r := msg.ReplyToMessage
	return r != nil && r.From != nil && self.ID != 0 && r.From.ID == self.ID
}

// mentionedSelf returns the bot's username when an entity in text mentions
// it, either as @username or as a text_mention of the bot user.
func mentionedSelf(text string, entities []tgbotapi.MessageEntity, self tgbotapi.User) string {
	if self.UserName == "" {
		return ""
	}
	var units []uint16
	for _, e := range entities {
		switch e.Type {
		case "text_mention":
			if e.User != nil && e.User.ID == self.ID {
				return self.UserName
			}
		case "mention":
			if units == nil {
				units = utf16.Encode([]rune(text))
			}
			if e.Offset < 0 || e.Offset+e.Length > len(units) {
				continue
			}
			name := string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
			if strings.EqualFold(strings.TrimPrefix(name, "@"), self.UserName) {
				return self.UserName
			}
		}
	}
	return ""
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if bot, _ := t.currentBot(); bot != nil {
		bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SendTyping sets the "typing…" chat action, which Telegram clears after
// about five seconds or when a message arrives. It returns when ctx ends or
// typingTimeout passes even if the request is still in flight; the request
// itself is bounded by the HTTP client timeout.
func (t *TelegramChannel) SendTyping(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, _ := t.currentBot()
	if bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, t.typingTimeout)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		_, err := bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("send chat action: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send chat action: %w", ctx.Err())
	}
}

func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	bot, _ := t.currentBot()
	if bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	if msg.ChatID == 0 {
		return fmt.Errorf("invalid chat id 0")
	}

	for i, chunk := range splitMessage(msg.Content, telegramChunkRunes) {
		ctx, cancel := context.WithTimeout(context.Background(), sendWaitTimeout)
		err := t.limiter.Wait(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("send rate limit: %w", err)
		}

		tgMsg := tgbotapi.NewMessage(msg.ChatID, toTelegramHTML(chunk))
		tgMsg.ParseMode = tgbotapi.ModeHTML
		if i == 0 && msg.ReplyTo != 0 {
			tgMsg.ReplyToMessageID = msg.ReplyTo
		}
		if _, err := bot.Send(tgMsg); err != nil {
			// retry this chunk as plain text
			tgMsg.ParseMode = ""
			tgMsg.Text = chunk
			if _, err2 := bot.Send(tgMsg); err2 != nil {
				return fmt.Errorf("send telegram message: %w", err2)
			}
		}
	}
	return nil
}

// splitMessage cuts s into pieces of at most max runes, preferring to break
// after a newline.
func splitMessage(s string, max int) []string {
	var out []string
	runes := []rune(s)
	for len(runes) > max {
		cut := max
		for i := max - 1; i > 0; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// toTelegramHTML escapes HTML and converts the few markdown spans chat models
// still emit: fenced code, inline code and bold.
func toTelegramHTML(s string) string {
	s = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
	s = wrapSpans(s, "```", "<pre>", "</pre>")
	s = wrapSpans(s, "`", "<code>", "</code>")
	s = wrapSpans(s, "**", "<b>", "</b>")
	return s
}

// wrapSpans replaces each closed delim…delim pair with openTag…closeTag. An
// unpaired trailing delimiter is left as is.
func wrapSpans(s, delim, openTag, closeTag string) string {
	var sb strings.Builder
	for {
		start := strings.Index(s, delim)
		if start < 0 {
			break
		}
		end := strings.Index(s[start+len(delim):], delim)
		if end < 0 {
			break
		}
		end += start + len(delim)
		inner := s[start+len(delim) : end]
		if delim == "```" {
			inner = stripFenceLanguage(inner)
		}
		sb.WriteString(s[:start])
		sb.WriteString(openTag)
		sb.WriteString(inner)
		sb.WriteString(closeTag)
		s = s[end+len(delim):]
	}
	sb.WriteString(s)
	return sb.String()
}

func stripFenceLanguage(code string) string {
	nl := strings.Index(code, "\n")
	if nl < 0 {
		return code
	}
	first := strings.TrimSpace(code[:nl])
	if first != "" && !strings.Contains(first, " ") {
		return code[nl+1:]
	}
	return code
}
