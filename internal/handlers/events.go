package handlers

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/commentboard/backend/internal/broadcast"
)

type EventHandler struct {
	hub *broadcast.Hub
}

func NewEventHandler(hub *broadcast.Hub) *EventHandler {
	return &EventHandler{hub: hub}
}

// Stream holds a server-sent-events connection open and forwards every
// published board event to the viewer until it disconnects.
func (h *EventHandler) Stream(c *gin.Context) {
	id, events := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	// flush headers right away so viewers know the stream is live before the
	// first event arrives
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(event.Name, event.Data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
