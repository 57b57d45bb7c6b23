package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"stocklive/logger"
)

const (
	writeWait  = 2 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// snapshotEvent tells connected dashboards which snapshot family was just
// refreshed so they can re-fetch the matching REST endpoint.
type snapshotEvent struct {
	Type string    `json:"type"`
	Lane string    `json:"lane"`
	At   time.Time `json:"at"`
}

// Hub fans refresh notifications out to websocket clients. Clients that stop
// draining their send buffer are disconnected so a slow consumer cannot stall
// the broadcast loop.
type Hub struct {
	clients    map[*wsClient]struct{}
	broadcast  chan snapshotEvent
	register   chan *wsClient
	unregister chan *wsClient
	log        *logger.Log
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan snapshotEvent
}

func NewHub(log *logger.Log) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]struct{}),
		broadcast:  make(chan snapshotEvent, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		log:        log,
	}
}

// NotifySnapshot queues a broadcast for the given lane. It never blocks; if
// the hub is saturated the event is dropped, clients will catch up on the
// next refresh.
func (h *Hub) NotifySnapshot(lane string) {
	ev := snapshotEvent{Type: "snapshot", Lane: lane, At: time.Now()}
	select {
	case h.broadcast <- ev:
	default:
		h.log.WithComponent("hub").WithFields(logger.Fields{"lane": lane}).Debug("broadcast queue full, event dropped")
	}
}

// Run owns the client set. All registration and broadcast happens on this
// goroutine, so the map needs no lock.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case ev := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- ev:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *Hub) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithComponent("hub").WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan snapshotEvent, 16),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump discards inbound frames; its job is detecting disconnects and
// answering pings so dead clients get pruned.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
