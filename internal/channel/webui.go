package channel

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/stellarlinkco/pacebot/internal/bus"
	"github.com/stellarlinkco/pacebot/internal/config"
)

//go:embed static
var staticFiles embed.FS

const (
	webUIChannelName = "webui"
	wsWriteTimeout   = 5 * time.Second
)

type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   int64
}

func (c *wsClient) write(ctx context.Context, m wsMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// WebUIChannel is a local browser chat. Each websocket connection is its own
// private chat whose chat and sender ID is the connection number.
type WebUIChannel struct {
	BaseChannel
	addr    string
	server  *http.Server
	ln      net.Listener
	ctx     context.Context
	clients sync.Map // int64 -> *wsClient
	nextID  atomic.Int64
}

func NewWebUIChannel(cfg config.WebUIConfig, host string, b *bus.MessageBus) (*WebUIChannel, error) {
	port := cfg.Port
	if port == 0 {
		port = config.DefaultWebUIPort
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("invalid webui port %d", port)
	}
	return &WebUIChannel{
		BaseChannel: NewBaseChannel(webUIChannelName, b, cfg.AllowFrom),
		addr:        net.JoinHostPort(host, strconv.Itoa(port)),
	}, nil
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("embed static fs: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", w.handleWS)

	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", w.addr, err)
	}
	w.ln = ln
	w.ctx = ctx
	w.server = &http.Server{Handler: mux}

	go func() {
		log.Printf("[webui] listening on %s", ln.Addr())
		if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[webui] server error: %v", err)
		}
	}()
	return nil
}

// Addr is the bound listen address, valid after Start.
func (w *WebUIChannel) Addr() string {
	if w.ln == nil {
		return w.addr
	}
	return w.ln.Addr().String()
}

func (w *WebUIChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[webui] websocket accept error: %v", err)
		return
	}

	client := &wsClient{conn: conn, id: w.nextID.Add(1)}
	w.clients.Store(client.id, client)
	log.Printf("[webui] client connected: %d", client.id)

	defer func() {
		w.clients.Delete(client.id)
		conn.CloseNow()
		log.Printf("[webui] client disconnected: %d", client.id)
	}()

	senderID := strconv.FormatInt(client.id, 10)
	username := "webui-" + senderID
	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "message" || msg.Content == "" {
			continue
		}
		if !w.IsAllowed(senderID, username) {
			log.Printf("[webui] rejected message from %s", username)
			continue
		}

		publishCtx := w.ctx
		if publishCtx == nil {
			publishCtx = r.Context()
		}
		w.bus.PublishInbound(publishCtx, bus.InboundMessage{
			Channel:       webUIChannelName,
			SenderID:      client.id,
			ChatID:        client.id,
			Username:      username,
			Content:       msg.Content,
			Timestamp:     time.Now(),
			IsPrivateChat: true,
		})
	}
}

func (w *WebUIChannel) client(chatID int64) (*wsClient, bool) {
	v, ok := w.clients.Load(chatID)
	if !ok {
		return nil, false
	}
	return v.(*wsClient), true
}

// Send delivers to the chat's connection, or to every connection when that
// chat has gone away.
func (w *WebUIChannel) Send(msg bus.OutboundMessage) error {
	out := wsMessage{Type: "message", Content: msg.Content}
	if c, ok := w.client(msg.ChatID); ok {
		return c.write(context.Background(), out)
	}
	w.clients.Range(func(_, value any) bool {
		_ = value.(*wsClient).write(context.Background(), out)
		return true
	})
	return nil
}

func (w *WebUIChannel) SendTyping(ctx context.Context, chatID int64) error {
	c, ok := w.client(chatID)
	if !ok {
		return fmt.Errorf("webui client %d not connected", chatID)
	}
	return c.write(ctx, wsMessage{Type: "typing"})
}

func (w *WebUIChannel) Stop() error {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			log.Printf("[webui] shutdown error: %v", err)
		}
	}
	w.clients.Range(func(_, value any) bool {
		value.(*wsClient).conn.CloseNow()
		return true
	})
	log.Printf("[webui] stopped")
	return nil
}
