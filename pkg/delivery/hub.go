package delivery

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"converse/pkg/logger"
)

const writeWait = 5 * time.Second

// wsConn wraps a websocket connection with a write lock. gorilla allows
// only one concurrent writer per connection, and the fanout pool calls
// Deliver from several workers at once.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Hub tracks live websocket connections per user. A user may hold
// several connections (multiple tabs or devices); delivery to any one
// of them counts as delivered.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]map[*wsConn]struct{}
	upgrader websocket.Upgrader
}

// NewHub returns a hub whose upgrader accepts the given origins. An
// empty list or a "*" entry allows any origin.
func NewHub(allowedOrigins []string) *Hub {
	allowAll := len(allowedOrigins) == 0
	allowed := map[string]struct{}{}
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return &Hub{
		conns: map[string]map[*wsConn]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

func (h *Hub) register(userID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[userID]
	if set == nil {
		set = map[*wsConn]struct{}{}
		h.conns[userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(userID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
}

// ServeWS upgrades the request and keeps the connection registered for
// userID until the peer disconnects. Incoming frames are discarded; the
// socket is outbound-only.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", zap.String("user", userID), zap.Error(err))
		return
	}
	c := &wsConn{ws: ws}
	h.register(userID, c)
	logger.Info("ws_connected", zap.String("user", userID))
	defer func() {
		h.unregister(userID, c)
		_ = ws.Close()
		logger.Info("ws_disconnected", zap.String("user", userID))
	}()
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// Connected reports whether userID has at least one live connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// Deliver writes frame to every connection of each recipient and
// returns the recipients that received it on at least one connection.
// Safe for concurrent callers; each connection serializes its writes.
func (h *Hub) Deliver(recipients []string, frame []byte) []string {
	h.mu.RLock()
	targets := make(map[string][]*wsConn, len(recipients))
	for _, uid := range recipients {
		for c := range h.conns[uid] {
			targets[uid] = append(targets[uid], c)
		}
	}
	h.mu.RUnlock()

	var delivered []string
	for uid, cs := range targets {
		ok := false
		for _, c := range cs {
			if err := c.write(frame); err != nil {
				logger.Warn("ws_write_failed", zap.String("user", uid), zap.Error(err))
				continue
			}
			ok = true
		}
		if ok {
			delivered = append(delivered, uid)
		}
	}
	return delivered
}
