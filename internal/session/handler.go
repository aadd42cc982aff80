package session

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberlive/backend/internal/models"
	"github.com/emberlive/backend/internal/recap"
	"github.com/emberlive/backend/internal/tiers"
	"github.com/emberlive/backend/pkg/response"
)

// StartRequest is the body for POST /live/start. Tier is a ladder ordinal
// starting at 0; the manager rejects unknown ordinals.
type StartRequest struct {
	Tier int `json:"tier"`
}

// HypeRequest is the body for POST /sessions/:id/hype, carrying one flushed
// batch of taps.
type HypeRequest struct {
	Taps int `json:"taps" binding:"required,min=1"`
}

// CoinsRequest is the body for POST /sessions/:id/coins.
type CoinsRequest struct {
	Amount int64 `json:"amount" binding:"required,min=1"`
}

// Handler exposes the lifecycle manager over HTTP.
type Handler struct {
	manager     *Manager
	completions CompletionStore
	logger      *zap.Logger
}

// NewHandler creates a session handler.
func NewHandler(manager *Manager, completions CompletionStore, logger *zap.Logger) *Handler {
	return &Handler{manager: manager, completions: completions, logger: logger}
}

// Start handles POST /live/start.
func (h *Handler) Start(c *gin.Context) {
	creatorID, ok := contextUUID(c, "user_id")
	if !ok {
		return
	}
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	s, err := h.manager.Start(c.Request.Context(), creatorID, req.Tier)
	if err != nil {
		var locked *TierLockedError
		var cooldown *CooldownError
		switch {
		case errors.Is(err, ErrUnknownTier):
			response.BadRequest(c, "unknown tier")
		case errors.Is(err, ErrAlreadyLive):
			response.Conflict(c, "a session is already live")
		case errors.As(err, &locked):
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "tier locked", "gate": locked.Result})
		case errors.As(err, &cooldown):
			response.TooManyRequests(c, "tier on cooldown", int(cooldown.Remaining.Seconds()))
		default:
			h.logger.Error("start session failed", zap.Error(err))
			response.Internal(c, "failed to start session")
		}
		return
	}
	response.Created(c, s)
}

// End handles POST /live/end and returns the completion record.
func (h *Handler) End(c *gin.Context) {
	creatorID, ok := contextUUID(c, "user_id")
	if !ok {
		return
	}
	rec, err := h.manager.End(c.Request.Context(), creatorID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			response.NotFound(c, "no live session")
			return
		}
		h.logger.Error("end session failed", zap.Error(err))
		response.Internal(c, "failed to end session")
		return
	}
	response.OK(c, rec)
}

// CheckGate handles GET /live/gate/:tier.
func (h *Handler) CheckGate(c *gin.Context) {
	creatorID, ok := contextUUID(c, "user_id")
	if !ok {
		return
	}
	tier, err := strconv.Atoi(c.Param("tier"))
	if err != nil {
		response.BadRequest(c, "invalid tier")
		return
	}
	r, err := h.manager.CheckGate(c.Request.Context(), creatorID, tier)
	if err != nil {
		if errors.Is(err, ErrUnknownTier) {
			response.BadRequest(c, "unknown tier")
			return
		}
		h.logger.Error("gate check failed", zap.Error(err))
		response.Internal(c, "failed to check gate")
		return
	}
	response.OK(c, r)
}

// DailyStatus handles GET /live/daily-status.
func (h *Handler) DailyStatus(c *gin.Context) {
	creatorID, ok := contextUUID(c, "user_id")
	if !ok {
		return
	}
	status, err := h.manager.DailyStatus(c.Request.Context(), creatorID)
	if err != nil {
		h.logger.Error("daily status failed", zap.Error(err))
		response.Internal(c, "failed to load daily status")
		return
	}
	response.OK(c, status)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	sessionID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	s, err := h.manager.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("get session failed", zap.Error(err))
		response.Internal(c, "failed to load session")
		return
	}
	if s == nil {
		response.NotFound(c, "session not found")
		return
	}
	response.OK(c, s)
}

// Join handles POST /sessions/:id/join.
func (h *Handler) Join(c *gin.Context) {
	sessionID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	participantID, ok := contextUUID(c, "user_id")
	if !ok {
		return
	}
	if err := h.manager.Join(c.Request.Context(), sessionID, participantID); err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			response.NotFound(c, "session not live")
			return
		}
		h.logger.Error("join failed", zap.Error(err))
		response.Internal(c, "failed to join session")
		return
	}
	response.NoContent(c)
}

// Leave handles POST /sessions/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	sessionID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	participantID, ok := contextUUID(c, "user_id")
	if !ok {
		return
	}
	if err := h.manager.Leave(c.Request.Context(), sessionID, participantID); err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			response.NotFound(c, "session not live")
			return
		}
		h.logger.Error("leave failed", zap.Error(err))
		response.Internal(c, "failed to leave session")
		return
	}
	response.NoContent(c)
}

// Hype handles POST /sessions/:id/hype.
func (h *Handler) Hype(c *gin.Context) {
	sessionID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	participantID, ok := contextUUID(c, "user_id")
	if !ok {
		return
	}
	var req HypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.manager.ApplyHypeFlush(c.Request.Context(), sessionID, participantID, req.Taps)
	response.NoContent(c)
}

// Coins handles POST /sessions/:id/coins.
func (h *Handler) Coins(c *gin.Context) {
	sessionID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	participantID, ok := contextUUID(c, "user_id")
	if !ok {
		return
	}
	var req CoinsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	total, err := h.manager.RecordCoins(c.Request.Context(), sessionID, participantID, req.Amount)
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			response.NotFound(c, "session not live")
			return
		}
		h.logger.Error("record coins failed", zap.Error(err))
		response.Internal(c, "failed to record coins")
		return
	}
	response.OK(c, gin.H{"total_coins": total})
}

// Recap handles GET /sessions/:id/recap. For a live session the recap is a
// running projection; for an ended one it is rebuilt from the completion
// record, which outlives the purged session row.
func (h *Handler) Recap(c *gin.Context) {
	sessionID, ok := paramUUID(c, "id")
	if !ok {
		return
	}

	if s, err := h.manager.GetSession(c.Request.Context(), sessionID); err == nil && s != nil && s.Status == models.SessionLive {
		def, defOK := tiers.ByOrdinal(s.Tier)
		if !defOK {
			response.Internal(c, "unknown session tier")
			return
		}
		response.OK(c, recap.Build(s, def, 0, nil))
		return
	}

	rec, err := h.completions.GetBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("load completion record failed", zap.Error(err))
		response.Internal(c, "failed to load recap")
		return
	}
	if rec == nil {
		response.NotFound(c, "session not found")
		return
	}
	def, defOK := tiers.ByOrdinal(rec.Tier)
	if !defOK {
		response.Internal(c, "unknown session tier")
		return
	}
	ended := rec.CompletedAt
	s := &models.Session{
		ID:              rec.SessionID,
		CreatorID:       rec.CreatorID,
		Tier:            rec.Tier,
		Status:          models.SessionEnded,
		PeakViewerCount: rec.PeakViewerCount,
		TotalCoinsSpent: rec.CoinsEarned,
		StartedAt:       ended.Add(-time.Duration(rec.DurationSeconds) * time.Second),
		LastHeartbeatAt: ended,
		EndedAt:         &ended,
	}
	response.OK(c, recap.Build(s, def, 0, nil))
}

func contextUUID(c *gin.Context, key string) (uuid.UUID, bool) {
	v, exists := c.Get(key)
	if !exists {
		response.Unauthorized(c, "missing user context")
		return uuid.Nil, false
	}
	s, _ := v.(string)
	id, err := uuid.Parse(s)
	if err != nil {
		response.Unauthorized(c, "invalid user context")
		return uuid.Nil, false
	}
	return id, true
}

func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
