package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gravito-framework/connectty-go/pkg/publish"
	"github.com/gravito-framework/connectty-go/pkg/store"
	"github.com/gravito-framework/connectty-go/pkg/types"
)

// Message is the envelope pushed to websocket clients
type Message struct {
	Type string         `json:"type"`
	Data publish.Report `json:"data"`
}

// Hub fans snapshots out to websocket clients
type Hub struct {
	node    string
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	current []byte
	log     *slog.Logger
}

// NewHub creates a hub; run it with Run
func NewHub(node string, log *slog.Logger) *Hub {
	return &Hub{
		node:       node,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("ws: client registered", "remote_addr", client.conn.RemoteAddr(), "total_clients", len(h.clients))
			if h.current != nil {
				client.send <- h.current
			}

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.current = message
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.log.Warn("ws: client channel full, dropping client", "remote_addr", client.conn.RemoteAddr())
					h.remove(client)
				}
			}
		}
	}
}

// Register adds a client; it reports false once the hub has stopped
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client if the hub is still running
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.log.Debug("ws: client unregistered", "remote_addr", client.conn.RemoteAddr(), "total_clients", len(h.clients))
	}
}

// Publish encodes a snapshot and queues it for every client
func (h *Hub) Publish(snap *types.Snapshot) {
	message, err := json.Marshal(Message{Type: "snapshot", Data: publish.NewReport(h.node, snap)})
	if err != nil {
		h.log.Error("ws: failed to marshal snapshot", "error", err)
		return
	}

	// Latest wins when the hub falls behind
	for {
		select {
		case h.broadcast <- message:
			return
		default:
			select {
			case <-h.broadcast:
			default:
			}
		}
	}
}

// Follow publishes every snapshot of agg until ctx is done
func (h *Hub) Follow(ctx context.Context, agg *store.Aggregator) {
	snaps, cancel := agg.Subscribe(1)
	defer cancel()

	h.Publish(agg.Snapshot())

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			h.Publish(snap)
		}
	}
}
