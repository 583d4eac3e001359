package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prsentry/prsentry/internal/services"
	"github.com/prsentry/prsentry/pkg/response"
	"gorm.io/gorm"
)

// SessionHandler exposes the read-only review session API.
type SessionHandler struct {
	sessions *services.SessionService
}

func NewSessionHandler(sessions *services.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// List returns recent sessions, newest first. Query params: repository_id,
// limit, offset.
func (h *SessionHandler) List(c *gin.Context) {
	repositoryID, _ := strconv.Atoi(c.Query("repository_id"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	sessions, total, err := h.sessions.List(uint(repositoryID), limit, offset)
	if err != nil {
		response.ServerError(c, "session query failed")
		return
	}

	response.Success(c, gin.H{
		"total":    total,
		"sessions": sessions,
	})
}

// Get returns one session with its inline comments.
func (h *SessionHandler) Get(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid session id")
		return
	}

	session, err := h.sessions.Get(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.ServerError(c, "session query failed")
		return
	}

	response.Success(c, session)
}
