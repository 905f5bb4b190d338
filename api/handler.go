// Package api provides the HTTP surface of the tracker.
package api

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentboard/config"
	"github.com/xiaot623/agentboard/domain"
	"github.com/xiaot623/agentboard/hub"
	"github.com/xiaot623/agentboard/store"
	"github.com/xiaot623/agentboard/tracker"
	"github.com/xiaot623/agentboard/ws"
)

// Handler handles HTTP requests.
type Handler struct {
	store   *store.Store
	tracker *tracker.Tracker
	hub     *hub.Hub
	push    *ws.Server
	config  *config.Config
}

// NewHandler creates a new handler.
func NewHandler(s *store.Store, t *tracker.Tracker, h *hub.Hub, push *ws.Server, cfg *config.Config) *Handler {
	return &Handler{store: s, tracker: t, hub: h, push: push, config: cfg}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/state", h.GetState)
	e.POST("/event", h.PostEvent)
	e.POST("/heartbeat", h.PostHeartbeat)
	e.POST("/reset", h.PostReset)
	e.GET("/events", h.push.HandleEvents)
	e.GET("/health", h.Health)
}

// PostEvent ingests one tool-use notification.
// POST /event
//
// Always acknowledges with 200: the producer cannot usefully retry a
// malformed send, so bad payloads are logged and dropped.
func (h *Handler) PostEvent(c echo.Context) error {
	var ev domain.HookEvent
	if err := c.Bind(&ev); err != nil {
		log.Printf("WARN: unparseable event payload: %v", err)
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}

	h.tracker.HandleEvent(ev)
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// PostHeartbeat refreshes the orchestrator activity timestamp only.
// POST /heartbeat
func (h *Handler) PostHeartbeat(c echo.Context) error {
	h.store.TouchActivity()
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// PostReset unconditionally clears the whole store.
// POST /reset
func (h *Handler) PostReset(c echo.Context) error {
	h.tracker.Reset()
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// Health returns liveness plus subscriber counts.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"subscribers": h.hub.SubscriberCount(),
		"agents":      h.store.Summary().Total,
	})
}
