// Package ws serves the /events push stream. Subscribers are passive:
// the server only ever writes change signals and keep-alive pings; a
// dead connection is detected on the next write failure.
package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentboard/hub"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Server handles /events websocket subscriptions.
type Server struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

// NewServer creates a new push server.
func NewServer(h *hub.Hub) *Server {
	return &Server{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Local display clients only; no origin policy.
				return true
			},
		},
	}
}

// HandleEvents upgrades the connection and subscribes it to change
// signals.
func (s *Server) HandleEvents(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("WARN: websocket upgrade failed: %v", err)
		return err
	}

	sub := s.hub.NewSubscriber(ws)
	s.hub.Register(sub)

	go s.writePump(sub)
	go s.readPump(sub)

	return nil
}

// writePump pushes change signals and keep-alive pings until a write
// fails.
func (s *Server) writePump(sub *hub.Subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		sub.Close()
	}()

	for {
		select {
		case frame, ok := <-sub.Send:
			sub.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				sub.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			sub.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards anything the subscriber sends and tears the
// subscription down when the connection closes.
func (s *Server) readPump(sub *hub.Subscriber) {
	defer func() {
		s.hub.Unregister(sub)
		sub.Close()
	}()

	sub.Conn.SetReadLimit(512)
	for {
		if _, _, err := sub.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
