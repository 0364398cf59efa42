package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/swapmeet/swapmeet/internal/domain/event"
)

var ErrSendBufferFull = errors.New("websocket send buffer full")

// Client is one websocket connection of a party.
type Client struct {
	PartyID string
	Conn    *websocket.Conn
	Send    chan event.Event

	ctx    context.Context
	cancel context.CancelFunc
}

// Hub fans events out to websocket clients per party.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]map[*Client]struct{}
	writeTimeout time.Duration
	pingInterval time.Duration
}

func NewHub() *Hub {
	return &Hub{
		clients:      map[string]map[*Client]struct{}{},
		writeTimeout: 10 * time.Second,
		pingInterval: 25 * time.Second,
	}
}

// AddClient registers conn and starts its write and keepalive loops.
func (h *Hub) AddClient(partyID string, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		PartyID: partyID,
		Conn:    conn,
		Send:    make(chan event.Event, 64),
		ctx:     ctx,
		cancel:  cancel,
	}

	h.mu.Lock()
	if h.clients[partyID] == nil {
		h.clients[partyID] = map[*Client]struct{}{}
	}
	h.clients[partyID][c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.keepAliveLoop(c)
	return c
}

func (h *Hub) RemoveClient(c *Client) {
	c.cancel()

	h.mu.Lock()
	if set, ok := h.clients[c.PartyID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.PartyID)
		}
	}
	h.mu.Unlock()

	_ = c.Conn.Close(websocket.StatusNormalClosure, "bye")
}

func (h *Hub) ClientCount(partyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[partyID])
}

func (h *Hub) Name() string {
	return "websocket"
}

// Deliver queues e for every connection of recipient without blocking.
func (h *Hub) Deliver(_ context.Context, recipient string, e event.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var err error
	for c := range h.clients[recipient] {
		select {
		case c.Send <- e:
		default:
			err = ErrSendBufferFull
		}
	}
	return err
}

func (h *Hub) writeLoop(c *Client) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case e := <-c.Send:
			writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
			err := wsjson.Write(writeCtx, c.Conn, e)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (h *Hub) keepAliveLoop(c *Client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			_ = c.Conn.Ping(pingCtx)
			cancel()
		}
	}
}

// Done is closed when the client's loops stop.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}
