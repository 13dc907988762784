package rpcapi

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dexchaind/internal/chain"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/logging"
)

// changedObjectsNotice is pushed to every subscriber after each applied
// block, the WebSocket analogue of spec.md §6.3's
// "subscription register/cancel callbacks" for changed_objects.
type changedObjectsNotice struct {
	BlockNum     uint64              `json:"block_num"`
	BlockID      protocol.Hash       `json:"block_id"`
	ChangedIDs   []protocol.ObjectID `json:"changed_ids"`
	SwitchedFork bool                `json:"switched_fork"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Read-only market-data style subscriptions; no credentials cross this
	// socket, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscriptionHub fans out changed_objects notices to every connected
// WebSocket client, each keyed by a uuid subscription handle so a client
// can later send {"cancel": true} to stop its own feed.
type subscriptionHub struct {
	mu      sync.Mutex
	clients map[string]*subscriber
}

type subscriber struct {
	conn *websocket.Conn
	send chan changedObjectsNotice
	done chan struct{}
}

func newSubscriptionHub() *subscriptionHub {
	return &subscriptionHub{clients: map[string]*subscriber{}}
}

func (h *subscriptionHub) onAppliedBlock(ev chain.AppliedBlockEvent) {
	notice := changedObjectsNotice{
		BlockNum:     ev.BlockNum,
		BlockID:      ev.BlockID,
		ChangedIDs:   ev.ChangedIDs,
		SwitchedFork: ev.SwitchedFork,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.clients {
		select {
		case sub.send <- notice:
		default:
			logging.Component("rpcapi").WithField("subscription_id", id).Warn("dropping slow changed_objects subscriber")
		}
	}
}

func (h *subscriptionHub) register(conn *websocket.Conn) string {
	id := uuid.NewString()
	sub := &subscriber{conn: conn, send: make(chan changedObjectsNotice, 32), done: make(chan struct{})}
	h.mu.Lock()
	h.clients[id] = sub
	h.mu.Unlock()
	go sub.writeLoop()
	return id
}

func (h *subscriptionHub) cancel(id string) {
	h.mu.Lock()
	sub, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		close(sub.done)
		_ = sub.conn.Close()
	}
}

func (h *subscriptionHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.clients {
		close(sub.done)
		_ = sub.conn.Close()
		delete(h.clients, id)
	}
}

func (s *subscriber) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case notice := <-s.send:
			if err := s.conn.WriteJSON(notice); err != nil {
				return
			}
		}
	}
}

// handleSubscribe upgrades to a WebSocket and streams changed_objects
// notices until the client disconnects or sends {"cancel": true}.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Component("rpcapi").WithError(err).Warn("websocket upgrade failed")
		return
	}
	id := s.hub.register(conn)
	logging.Component("rpcapi").WithField("subscription_id", id).Info("subscription opened")
	defer s.hub.cancel(id)

	for {
		var msg struct {
			Cancel bool `json:"cancel"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Cancel {
			return
		}
	}
}
