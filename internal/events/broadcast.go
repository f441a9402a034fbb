// Package events publishes supervisor lifecycle events to local WebSocket
// clients, so editors and dashboards can follow builds and reloads.
package events

import (
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Stemt/hexcaster/internal/supervisor"
)

var ErrTooManyConnections = errors.New("events: too many connections")

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn, buffer int) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, buffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans supervisor events out to connected clients. It
// implements supervisor.Observer and never blocks the caller: a client
// whose queue is full is disconnected.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	last     *supervisor.Event
	buffer   int
	maxConns int
}

// NewBroadcaster returns a Broadcaster with the given per-client queue
// length. maxConns <= 0 means unlimited.
func NewBroadcaster(buffer, maxConns int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{
		clients:  make(map[*client]bool),
		buffer:   buffer,
		maxConns: maxConns,
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		return nil, ErrTooManyConnections
	}
	c := newClient(conn, b.buffer)
	b.clients[c] = true

	data, err := json.Marshal(WSMessage{Type: MsgSnapshot, Payload: SnapshotPayload{Last: b.last}})
	if err != nil {
		log.Printf("events: snapshot marshal error: %v", err)
		return c, nil
	}
	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// Notify records ev as the latest event and sends it to every client. Both
// happen under one lock, so a client connecting concurrently sees ev either
// in its snapshot or as an event, never both.
func (b *Broadcaster) Notify(ev supervisor.Event) {
	data, err := json.Marshal(WSMessage{Type: MsgEvent, Payload: EventPayload{Event: ev}})
	if err != nil {
		log.Printf("events: broadcast marshal error: %v", err)
		return
	}

	b.mu.Lock()
	b.last = &ev
	var slow []*client
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.Unlock()

	for _, c := range slow {
		log.Printf("events: client too slow, disconnecting")
		b.RemoveClient(c)
	}
}

// Last returns the most recent event, if any.
func (b *Broadcaster) Last() (supervisor.Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.last == nil {
		return supervisor.Event{}, false
	}
	return *b.last, true
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
}
