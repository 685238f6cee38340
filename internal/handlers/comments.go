package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/commentboard/backend/internal/board"
	"github.com/commentboard/backend/internal/models"
)

type CommentHandler struct {
	svc *board.Service
}

func NewCommentHandler(svc *board.Service) *CommentHandler {
	return &CommentHandler{svc: svc}
}

// List returns the full threaded comment tree
func (h *CommentHandler) List(c *gin.Context) {
	tree, err := h.svc.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": tree})
}

// Create posts a new comment, optionally as a reply
func (h *CommentHandler) Create(c *gin.Context) {
	identity, ok := extractIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var input models.CreateCommentRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	comment, err := h.svc.Create(c.Request.Context(), identity, input.Content, input.ParentID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"comment": comment})
}

// Update edits a comment's content (owner only)
func (h *CommentHandler) Update(c *gin.Context) {
	identity, ok := extractIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	commentID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid comment id"})
		return
	}

	var input models.UpdateCommentRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	comment, err := h.svc.Edit(c.Request.Context(), identity, commentID, input.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"comment": comment})
}

// Delete removes a comment and all of its descendants (owner only)
func (h *CommentHandler) Delete(c *gin.Context) {
	identity, ok := extractIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	commentID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid comment id"})
		return
	}

	if err := h.svc.Delete(c.Request.Context(), identity, commentID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Comment deleted successfully"})
}

// React toggles the caller's reaction on a comment
func (h *CommentHandler) React(c *gin.Context) {
	identity, ok := extractIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var input models.ReactRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reactions, err := h.svc.React(c.Request.Context(), identity, input.CommentID, input.Kind)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reactions": reactions})
}
