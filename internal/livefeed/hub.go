// Package livefeed broadcasts forward-test run status — trade opens,
// trade closes, and equity updates — to connected WebSocket dashboard
// clients.
//
// The teacher's gateway fanned updates out through Redis pub/sub because
// its indicator engine and gateway ran as separate processes. This engine
// runs forward-test as a single binary, so Hub.Publish is called directly
// from the engine's own goroutine — no broker in between.
package livefeed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is the envelope pushed to every connected client.
type Event struct {
	Type string    `json:"type"` // trade_opened, trade_closed, equity
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Hub fans status events out to every currently connected client. The zero
// value is not usable; construct with NewHub.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]bool
	latest  Event
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]bool)}
}

// Publish marshals an event and fans it out to every connected client. A
// client whose send buffer is already full is dropped rather than blocking
// the caller — a slow dashboard connection must never stall the trading
// loop that triggered the event.
func (h *Hub) Publish(eventType string, data any) {
	ev := Event{Type: eventType, Time: time.Now().UTC(), Data: data}
	raw, err := json.Marshal(ev)
	if err != nil {
		slog.Error("livefeed: marshal event failed", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = ev
	for c := range h.clients {
		select {
		case c.send <- raw:
		default:
			slog.Warn("livefeed: client send buffer full, dropping client")
			h.removeLocked(c)
		}
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection, replays the
// last published event so a newly connected dashboard isn't blank until
// the next trade, and registers the client with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("livefeed: upgrade failed", "err", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	h.sendLatest(c)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) sendLatest(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest.Type == "" {
		return
	}
	raw, err := json.Marshal(h.latest)
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
}

// ClientCount reports the number of currently connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
