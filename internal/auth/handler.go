package auth

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberlive/backend/internal/models"
	"github.com/emberlive/backend/pkg/response"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=6"`
	DisplayName string `json:"display_name" binding:"required"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token   string               `json:"token"`
	Creator models.CreatorPublic `json:"creator"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo   *Repository
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo *Repository, jwt *JWTService, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, jwt: jwt, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	existing, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		h.logger.Error("email lookup failed", zap.Error(err))
		response.Internal(c, "failed to register")
		return
	}
	if existing != nil {
		response.BadRequest(c, "email already registered")
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		h.logger.Error("password hash failed", zap.Error(err))
		response.Internal(c, "failed to register")
		return
	}

	creator, err := h.repo.Create(c.Request.Context(), req.Email, hash, req.DisplayName)
	if err != nil {
		h.logger.Error("creator insert failed", zap.Error(err))
		response.Internal(c, "failed to register")
		return
	}

	token, err := h.jwt.Generate(creator.ID, creator.Email)
	if err != nil {
		h.logger.Error("token generation failed", zap.Error(err))
		response.Internal(c, "failed to register")
		return
	}
	response.Created(c, TokenResponse{Token: token, Creator: creator.Public()})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	creator, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		h.logger.Error("email lookup failed", zap.Error(err))
		response.Internal(c, "failed to log in")
		return
	}
	if creator == nil || !CheckPassword(req.Password, creator.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := h.jwt.Generate(creator.ID, creator.Email)
	if err != nil {
		h.logger.Error("token generation failed", zap.Error(err))
		response.Internal(c, "failed to log in")
		return
	}
	response.OK(c, TokenResponse{Token: token, Creator: creator.Public()})
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	id, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		response.Unauthorized(c, "missing user context")
		return
	}
	creator, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("creator lookup failed", zap.Error(err))
		response.Internal(c, "failed to load profile")
		return
	}
	if creator == nil {
		response.NotFound(c, "creator not found")
		return
	}
	response.OK(c, creator.Public())
}
