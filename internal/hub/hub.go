// Package hub fans server events out to connected WebSocket clients for the
// development server. Persisted-record events go to every client; channel
// broadcasts only reach clients joined to the channel.
package hub

import (
	"encoding/json"
	"sync"

	whatsnep "github.com/whatsnep/whatsnep-go"
)

type Client struct {
	ID     string
	UserID string
	Send   chan []byte
}

type channelBroadcast struct {
	channel string
	origin  string
	data    []byte
}

type Hub struct {
	mu sync.RWMutex

	clients  map[string]*Client            // client id -> client
	channels map[string]map[string]*Client // channel -> client id -> client

	RegisterChan   chan *Client
	UnregisterChan chan *Client
	publishChan    chan []byte
	broadcastChan  chan channelBroadcast
}

func New() *Hub {
	return &Hub{
		clients:        map[string]*Client{},
		channels:       map[string]map[string]*Client{},
		RegisterChan:   make(chan *Client),
		UnregisterChan: make(chan *Client),
		publishChan:    make(chan []byte, 64),
		broadcastChan:  make(chan channelBroadcast, 64),
	}
}

func (h *Hub) Start() {
	for {
		select {
		case client := <-h.RegisterChan:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()

		case client := <-h.UnregisterChan:
			h.mu.Lock()
			delete(h.clients, client.ID)
			for _, members := range h.channels {
				delete(members, client.ID)
			}
			h.mu.Unlock()
			close(client.Send)

		case data := <-h.publishChan:
			h.mu.RLock()
			for _, c := range h.clients {
				select {
				case c.Send <- data:
				default:
				}
			}
			h.mu.RUnlock()

		case bc := <-h.broadcastChan:
			h.mu.RLock()
			for id, c := range h.channels[bc.channel] {
				if id == bc.origin {
					continue
				}
				select {
				case c.Send <- bc.data:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Join subscribes a client to a broadcast channel.
func (h *Hub) Join(clientID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	if h.channels[channel] == nil {
		h.channels[channel] = map[string]*Client{}
	}
	h.channels[channel][clientID] = c
}

// Leave unsubscribes a client from a broadcast channel.
func (h *Hub) Leave(clientID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels[channel], clientID)
}

// Publish pushes a typed event to every connected client.
func (h *Hub) Publish(eventType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(whatsnep.Envelope{Type: eventType, Payload: raw})
	if err != nil {
		return
	}
	h.publishChan <- data
}

// Broadcast pushes a typing signal to the channel's members, excluding the
// originating client.
func (h *Hub) Broadcast(originClientID, channel string, sig whatsnep.TypingSignal) {
	raw, err := json.Marshal(sig)
	if err != nil {
		return
	}
	data, err := json.Marshal(whatsnep.Envelope{Type: "typing", Payload: raw})
	if err != nil {
		return
	}
	h.broadcastChan <- channelBroadcast{channel: channel, origin: originClientID, data: data}
}
