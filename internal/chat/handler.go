package chat

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberlive/backend/pkg/response"
)

// MessageRequest is the body for POST /sessions/:id/chat.
type MessageRequest struct {
	Body string `json:"body" binding:"required,max=500"`
}

// Broadcaster pushes a persisted message out to connected viewers.
type Broadcaster interface {
	PublishOnly(sessionID uuid.UUID, event string, payload interface{})
}

// Handler handles chat HTTP endpoints.
type Handler struct {
	repo        *Repository
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewHandler creates a chat handler.
func NewHandler(repo *Repository, broadcaster Broadcaster, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, broadcaster: broadcaster, logger: logger}
}

// Post handles POST /sessions/:id/chat.
func (h *Handler) Post(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	senderID, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		response.Unauthorized(c, "missing user context")
		return
	}
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	msg, err := h.repo.Create(c.Request.Context(), sessionID, senderID, req.Body)
	if err != nil {
		h.logger.Error("chat insert failed", zap.Error(err))
		response.Internal(c, "failed to send message")
		return
	}
	if h.broadcaster != nil {
		h.broadcaster.PublishOnly(sessionID, "chat_message", msg)
	}
	response.Created(c, msg)
}

// List handles GET /sessions/:id/chat.
func (h *Handler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	msgs, err := h.repo.ListBySession(c.Request.Context(), sessionID, 200)
	if err != nil {
		h.logger.Error("chat list failed", zap.Error(err))
		response.Internal(c, "failed to load messages")
		return
	}
	response.OK(c, msgs)
}
