package devserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pliu/courier/internal/models"
)

// Hub routes direct messages between registered connections. A connection
// joins the routing table only after its register envelope arrives; a dm is
// persisted and then fanned out to every connection of both participants,
// sender included (the echo is the client's delivery confirmation).
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	deliver    chan models.OutboundDraft

	store  *Store
	logger *zap.Logger
}

func NewHub(store *Store, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		deliver:    make(chan models.OutboundDraft),
		store:      store,
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case draft := <-h.deliver:
			msg, err := h.store.SaveMessage(draft)
			if err != nil {
				h.logger.Error("saving message", zap.Error(err))
				continue
			}

			env, err := models.NewEnvelope(models.EventDM, msg)
			if err != nil {
				continue
			}
			raw, _ := json.Marshal(env)

			for c := range h.clients {
				if c.userID != msg.FromUserID && c.userID != msg.ToUserID {
					continue
				}
				select {
				case c.send <- raw:
					messagesDelivered.Inc()
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

type client struct {
	hub    *Hub
	ws     *websocket.Conn
	send   chan []byte
	userID string
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and runs the connection until it drops.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{hub: hub, ws: ws, send: make(chan []byte, 16)}
	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer func() {
		if c.userID != "" {
			c.hub.unregister <- c
		}
		c.ws.Close()
	}()

	for {
		var env models.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return
		}

		switch env.Event {
		case models.EventRegister:
			var userID string
			if err := json.Unmarshal(env.Data, &userID); err != nil || userID == "" {
				continue
			}
			if c.userID == "" {
				c.userID = userID
				c.hub.register <- c
			}
		case models.EventDM:
			// Drops silently until the connection has registered; an
			// unregistered sender has no routable identity.
			if c.userID == "" {
				continue
			}
			var draft models.OutboundDraft
			if err := json.Unmarshal(env.Data, &draft); err != nil {
				continue
			}
			c.hub.deliver <- draft
		}
	}
}

func (c *client) writePump() {
	defer c.ws.Close()
	for raw := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
}
