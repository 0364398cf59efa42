package sse

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swapmeet/swapmeet/internal/domain/event"
)

var (
	ErrClientNotFound = errors.New("SSE client not found")
	ErrChannelFull    = errors.New("SSE message channel full")
)

// Client is an open event stream of one party.
type Client struct {
	ClientID    string
	PartyID     string
	ConnectedAt time.Time
	MessageChan chan *Message
}

func NewClient(clientID, partyID string) *Client {
	return &Client{
		ClientID:    clientID,
		PartyID:     partyID,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *Message, 100),
	}
}

func (c *Client) Close() {
	close(c.MessageChan)
}

// Message is one server-sent event.
type Message struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewMessage(e event.Event) (*Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        e.EventID.String(),
		Event:     string(e.Type),
		Data:      data,
		Timestamp: e.OccurredAt,
	}, nil
}

// Hub manages SSE clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[client.ClientID]; ok {
		old.Close()
	}
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[client.ClientID]; ok && c == client {
		c.Close()
		delete(h.clients, client.ClientID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Name() string {
	return "sse"
}

// Deliver queues e for every stream of recipient. Slow clients drop messages.
func (h *Hub) Deliver(_ context.Context, recipient string, e event.Event) error {
	msg, err := NewMessage(e)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	dropped := false
	for _, c := range h.clients {
		if c.PartyID == recipient && !trySend(c, msg) {
			dropped = true
		}
	}
	if dropped {
		return ErrChannelFull
	}
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

// NewClientID returns a stream id for callers that did not provide one.
func NewClientID() string {
	return uuid.NewString()
}

func trySend(c *Client, msg *Message) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}
