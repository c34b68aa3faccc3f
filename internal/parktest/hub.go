package parktest

import (
	"sync"

	"github.com/gorilla/websocket"
)

// hub fans slot events out to every channel subscribed to a lot,
// the same shape as the backend's per-lot connection manager.
type hub struct {
	mu    sync.Mutex
	conns map[int64]map[*websocket.Conn]bool
}

func newHub() *hub {
	return &hub{conns: make(map[int64]map[*websocket.Conn]bool)}
}

func (h *hub) add(lotID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[lotID] == nil {
		h.conns[lotID] = make(map[*websocket.Conn]bool)
	}
	h.conns[lotID][conn] = true
}

func (h *hub) remove(lotID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[lotID], conn)
}

func (h *hub) broadcast(lotID int64, message any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns[lotID] {
		// Write failures just mean the peer is gone; the read loop
		// will reap the connection.
		_ = conn.WriteJSON(message)
	}
}

// closeAll force-closes every connection for a lot. Tests use it to
// simulate an unexpected channel drop.
func (h *hub) closeAll(lotID int64) {
	h.mu.Lock()
	conns := h.conns[lotID]
	h.conns[lotID] = make(map[*websocket.Conn]bool)
	h.mu.Unlock()
	for conn := range conns {
		conn.Close()
	}
}

// count reports how many live channels a lot has.
func (h *hub) count(lotID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[lotID])
}
