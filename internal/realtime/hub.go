package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pablohfr/notifications-service/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10 // 64 KiB

	defaultBufferSize    = 64
	defaultAttachTimeout = 5 * time.Second
)

// Lifecycle receives connection attach and detach notifications from the hub.
type Lifecycle interface {
	Attach(ctx context.Context, identity string, ch Channel) error
	Detach(ch Channel)
}

type controlMessage struct {
	Action string `json:"action"`
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithAllowedOrigins permits cross-origin handshakes from the listed origins.
// A "*" entry accepts any origin.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) {
		for _, origin := range origins {
			origin = strings.ToLower(strings.TrimSpace(origin))
			if origin == "" {
				continue
			}
			if origin == "*" {
				h.anyOrigin = true
				continue
			}
			h.origins[strings.TrimRight(origin, "/")] = struct{}{}
		}
	}
}

// WithSendBuffer sets the per-connection outbound buffer size.
func WithSendBuffer(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.bufferSize = size
		}
	}
}

// WithAttachTimeout bounds the attach call made for each new connection.
func WithAttachTimeout(timeout time.Duration) HubOption {
	return func(h *Hub) {
		if timeout > 0 {
			h.attachTimeout = timeout
		}
	}
}

// Hub upgrades HTTP requests into live channels and reports their lifecycle.
type Hub struct {
	lifecycle     Lifecycle
	upgrader      websocket.Upgrader
	origins       map[string]struct{}
	anyOrigin     bool
	bufferSize    int
	attachTimeout time.Duration
	log           *zap.Logger
}

// NewHub constructs a realtime hub.
func NewHub(lifecycle Lifecycle, opts ...HubOption) *Hub {
	h := &Hub{
		lifecycle:     lifecycle,
		origins:       make(map[string]struct{}),
		bufferSize:    defaultBufferSize,
		attachTimeout: defaultAttachTimeout,
		log:           logger.WithModule("realtime"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Serve upgrades the connection and blocks until it closes. An empty identity
// yields a connection that is never attached and receives no pushes.
func (h *Hub) Serve(identity string, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	client := newConnection(h, socket, strings.TrimSpace(identity), h.bufferSize)
	go client.writeLoop()

	if client.identity != "" && h.lifecycle != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.attachTimeout)
		if err := h.lifecycle.Attach(ctx, client.identity, client); err != nil {
			h.log.Warn("attach failed",
				zap.String("identity", client.identity),
				zap.String("channel", client.id),
				zap.Error(err),
			)
		}
		cancel()
	} else {
		h.log.Debug("anonymous connection accepted", zap.String("channel", client.id))
	}

	client.readLoop()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || h.anyOrigin {
		return true
	}
	if _, ok := h.origins[strings.TrimRight(strings.ToLower(origin), "/")]; ok {
		return true
	}
	originHost := hostWithoutPort(origin)
	return originHost == hostWithoutPort(r.Host) || isLoopback(originHost)
}

type connection struct {
	hub      *Hub
	id       string
	identity string
	socket   *websocket.Conn
	send     chan Message
	done     chan struct{}
	once     sync.Once
}

func newConnection(hub *Hub, socket *websocket.Conn, identity string, buffer int) *connection {
	return &connection{
		hub:      hub,
		id:       uuid.NewString(),
		identity: identity,
		socket:   socket,
		send:     make(chan Message, buffer),
		done:     make(chan struct{}),
	}
}

// ID identifies this connection for registry ownership checks.
func (c *connection) ID() string { return c.id }

// Send queues message without blocking. A full buffer closes the connection.
func (c *connection) Send(ctx context.Context, message Message) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	select {
	case c.send <- message:
		return nil
	case <-c.done:
		return ErrChannelClosed
	default:
		c.hub.log.Warn("dropping backpressure client",
			zap.String("identity", c.identity),
			zap.String("channel", c.id),
		)
		c.close()
		return ErrBackpressure
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("channel", c.id), zap.Error(err))
			}
			return
		}

		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Debug("invalid control payload", zap.String("channel", c.id), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "ping":
			_ = c.Send(context.Background(), Message{Event: EventPong})
		default:
			c.hub.log.Debug("unsupported control action",
				zap.String("channel", c.id),
				zap.String("action", ctrl.Action),
			)
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.done)
		if c.hub.lifecycle != nil {
			c.hub.lifecycle.Detach(c)
		}
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		if parsed, err := url.Parse(host); err == nil {
			return hostWithoutPort(parsed.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
