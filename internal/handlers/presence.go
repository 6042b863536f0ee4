package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ride-messaging/internal/models"
)

// PresenceSource reports who is connected to the relay.
type PresenceSource interface {
	Presence(userID string) models.UserStatusInfo
	OnlineUsers() []string
}

// PresenceHandler serves presence lookups over HTTP.
type PresenceHandler struct {
	source PresenceSource
}

// NewPresenceHandler constructs a PresenceHandler.
func NewPresenceHandler(source PresenceSource) *PresenceHandler {
	return &PresenceHandler{source: source}
}

// GetPresence returns the status of one user.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	c.JSON(http.StatusOK, h.source.Presence(userID))
}

// ListOnline returns the ids of connected users.
func (h *PresenceHandler) ListOnline(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.source.OnlineUsers()})
}
