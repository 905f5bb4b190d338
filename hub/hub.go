// Package hub provides subscriber management for change-signal
// fan-out. Signals carry no payload: consumers re-pull the full state
// on each one, which keeps the hub decoupled from the snapshot shape.
package hub

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// changeSignal is the only frame the hub ever pushes.
var changeSignal = []byte(`{"type":"state_changed"}`)

// Subscriber represents a single push connection.
type Subscriber struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	hub  *Hub
	mu   sync.Mutex
}

// Hub manages all subscribers.
type Hub struct {
	subscribers map[string]*Subscriber

	register   chan *Subscriber
	unregister chan *Subscriber
	notify     chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new Hub. Call Run to start the fan-out loop.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		notify:      make(chan struct{}, 64),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub.ID] = sub
			h.mu.Unlock()
			log.Printf("subscriber registered: %s", sub.ID)

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub.ID]; ok {
				delete(h.subscribers, sub.ID)
				close(sub.Send)
			}
			h.mu.Unlock()
			log.Printf("subscriber unregistered: %s", sub.ID)

		case <-h.notify:
			h.mu.RLock()
			for id, sub := range h.subscribers {
				select {
				case sub.Send <- changeSignal:
				default:
					// Buffer full: the subscriber is not draining.
					log.Printf("WARN: subscriber %s not keeping up, dropping", id)
					go h.Unregister(sub)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewSubscriber creates a subscriber for the given connection.
func (h *Hub) NewSubscriber(ws *websocket.Conn) *Subscriber {
	return &Subscriber{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 16),
		hub:  h,
	}
}

// Register adds a subscriber to the fan-out set.
func (h *Hub) Register(sub *Subscriber) {
	h.register <- sub
}

// Unregister removes a subscriber from the fan-out set.
func (h *Hub) Unregister(sub *Subscriber) {
	h.unregister <- sub
}

// Notify queues a content-free change signal for every subscriber.
func (h *Hub) Notify() {
	select {
	case h.notify <- struct{}{}:
	default:
		// A signal is already queued; consumers re-pull everything
		// anyway.
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// WriteMessage writes a frame to the connection with proper locking.
func (s *Subscriber) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Conn.WriteMessage(messageType, data)
}

// Close closes the underlying connection.
func (s *Subscriber) Close() error {
	return s.Conn.Close()
}
