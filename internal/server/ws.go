package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/justmebob123/autonomy-sub005/internal/bus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHub bridges bus traffic to websocket clients. Bus handlers only enqueue
// into a buffered channel, so a slow client never blocks the publishing
// loop; when the buffer is full the message is dropped for the hub.
type WSHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	msgCh   chan bus.Message
	subs    []string
	bus     *bus.Bus
	log     *zap.Logger
}

// NewWSHub subscribes to every message type on the bus.
func NewWSHub(b *bus.Bus, log *zap.Logger) *WSHub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &WSHub{
		clients: make(map[*websocket.Conn]bool),
		msgCh:   make(chan bus.Message, 256),
		bus:     b,
		log:     log,
	}
	for _, t := range bus.AllTypes {
		id := b.Subscribe(bus.Broadcast, t, h.enqueue)
		h.subs = append(h.subs, id)
	}
	return h
}

func (h *WSHub) enqueue(msg bus.Message) {
	select {
	case h.msgCh <- msg:
	default:
		h.log.Warn("websocket hub buffer full, dropping message",
			zap.String("message_type", string(msg.Type)))
	}
}

// Run drains the channel and fans messages out to connected clients.
// Returns when Close drops the channel.
func (h *WSHub) Run() {
	for msg := range h.msgCh {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		h.mu.Lock()
		for conn := range h.clients {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				delete(h.clients, conn)
			}
		}
		h.mu.Unlock()
	}
}

// Close unsubscribes from the bus and stops the Run loop.
func (h *WSHub) Close() {
	for _, id := range h.subs {
		h.bus.Unsubscribe(id)
	}
	close(h.msgCh)

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// HandleWebSocket upgrades the connection and keeps it registered until the
// peer goes away.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
