package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/commentboard/backend/internal/board"
	"github.com/commentboard/backend/internal/broadcast"
	"github.com/commentboard/backend/internal/config"
)

// Handler combines all handler types
type Handler struct {
	Auth    *AuthHandler
	Comment *CommentHandler
	Event   *EventHandler
}

// NewHandler creates a unified handler with all sub-handlers
func NewHandler(svc *board.Service, hub *broadcast.Hub, cfg config.Config) *Handler {
	return &Handler{
		Auth:    NewAuthHandler(svc, cfg),
		Comment: NewCommentHandler(svc),
		Event:   NewEventHandler(hub),
	}
}

func extractIdentity(c *gin.Context) (board.Identity, bool) {
	raw, exists := c.Get("user_id")
	if !exists {
		return board.Identity{}, false
	}
	identity := board.Identity{Name: c.GetString("username")}
	switch v := raw.(type) {
	case int:
		identity.UserID = v
	case float64:
		identity.UserID = int(v)
	default:
		return board.Identity{}, false
	}
	return identity, true
}

// respondError maps the board error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var (
		validationErr *board.ValidationError
		authErr       *board.AuthError
		forbiddenErr  *board.ForbiddenError
		notFoundErr   *board.NotFoundError
		storageErr    *board.StorageError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message})
	case errors.As(err, &authErr):
		c.JSON(http.StatusUnauthorized, gin.H{"error": authErr.Message})
	case errors.As(err, &forbiddenErr):
		c.JSON(http.StatusForbidden, gin.H{"error": forbiddenErr.Message})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundErr.Message})
	case errors.As(err, &storageErr):
		log.Printf("storage failure: %v", storageErr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	default:
		log.Printf("unexpected error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
