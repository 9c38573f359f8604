package runtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	pkglog "github.com/theroutercompany/mock_api/pkg/log"
	"github.com/theroutercompany/mock_api/pkg/mock/watch"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = eventPongWait * 9 / 10
	eventBuffer     = 64
)

// eventHub fans fixture change events out to websocket subscribers. A client
// whose buffer is full is dropped rather than slowing the watcher.
type eventHub struct {
	mu       sync.Mutex
	clients  map[*eventClient]struct{}
	upgrader websocket.Upgrader
	logger   pkglog.Logger
}

type eventClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *eventClient) close() {
	c.once.Do(func() { close(c.send) })
}

func newEventHub(logger pkglog.Logger) *eventHub {
	return &eventHub{
		clients: make(map[*eventClient]struct{}),
		logger:  logger,
	}
}

func (h *eventHub) serve(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("event stream upgrade failed", "error", err)
		return
	}

	client := &eventClient{conn: conn, send: make(chan []byte, eventBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	h.readLoop(client)
}

// readLoop discards client messages and returns once the peer goes away.
func (h *eventHub) readLoop(c *eventClient) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(eventPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *eventHub) writeLoop(c *eventClient) {
	ticker := time.NewTicker(eventPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *eventHub) broadcast(events []watch.Event) {
	if len(events) == 0 {
		return
	}

	messages := make([][]byte, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			h.logger.Warnw("failed to encode fixture event", "error", err, "path", e.Path)
			continue
		}
		messages = append(messages, data)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		for _, msg := range messages {
			select {
			case c.send <- msg:
			default:
				h.logger.Warnw("dropping slow event subscriber", "remote", c.conn.RemoteAddr().String())
				delete(h.clients, c)
				c.close()
			}
			if _, ok := h.clients[c]; !ok {
				break
			}
		}
	}
}

func (h *eventHub) remove(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *eventHub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
