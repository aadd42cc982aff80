package notify

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberlive/backend/pkg/response"
)

// Handler exposes follow/unfollow over HTTP.
type Handler struct {
	repo   *FollowerRepository
	logger *zap.Logger
}

// NewHandler creates a follower handler.
func NewHandler(repo *FollowerRepository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// Follow handles POST /creators/:id/follow.
func (h *Handler) Follow(c *gin.Context) {
	h.edit(c, h.repo.Follow)
}

// Unfollow handles DELETE /creators/:id/follow.
func (h *Handler) Unfollow(c *gin.Context) {
	h.edit(c, h.repo.Unfollow)
}

func (h *Handler) edit(c *gin.Context, op func(ctx context.Context, creatorID, followerID uuid.UUID) error) {
	creatorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid creator id")
		return
	}
	v, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "missing user context")
		return
	}
	raw, _ := v.(string)
	followerID, err := uuid.Parse(raw)
	if err != nil {
		response.Unauthorized(c, "invalid user context")
		return
	}
	if creatorID == followerID {
		response.BadRequest(c, "cannot follow yourself")
		return
	}
	if err := op(c.Request.Context(), creatorID, followerID); err != nil {
		h.logger.Error("follower update failed", zap.Error(err))
		response.Internal(c, "failed to update follow state")
		return
	}
	response.NoContent(c)
}
