package replies

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberlive/backend/pkg/response"
	"github.com/emberlive/backend/pkg/storage"
)

// UploadURLRequest is the body for POST /sessions/:id/replies/upload-url.
type UploadURLRequest struct {
	ContentType      string `json:"content_type" binding:"required"`
	ThumbContentType string `json:"thumb_content_type"`
}

// UploadURLResponse carries presigned PUT targets for the clip and optional
// thumbnail. The reply id pins both objects to the row created afterwards.
type UploadURLResponse struct {
	ReplyID        string `json:"reply_id"`
	ClipKey        string `json:"clip_key"`
	ClipUploadURL  string `json:"clip_upload_url"`
	ThumbKey       string `json:"thumb_key,omitempty"`
	ThumbUploadURL string `json:"thumb_upload_url,omitempty"`
	MaxFileSize    int64  `json:"max_file_size"`
}

// CreateRequest is the body for POST /sessions/:id/replies, sent after the
// client finishes uploading to the presigned URLs.
type CreateRequest struct {
	ReplyID  string `json:"reply_id" binding:"required,uuid"`
	ThumbKey string `json:"thumb_key"`
}

// Broadcaster announces a new reply to connected viewers.
type Broadcaster interface {
	Broadcast(sessionID uuid.UUID, event string, payload interface{})
}

// Handler handles video reply HTTP endpoints.
type Handler struct {
	repo        *Repository
	s3          *storage.S3
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewHandler creates a replies handler.
func NewHandler(repo *Repository, s3 *storage.S3, broadcaster Broadcaster, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, s3: s3, broadcaster: broadcaster, logger: logger}
}

// UploadURL handles POST /sessions/:id/replies/upload-url.
func (h *Handler) UploadURL(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !storage.ValidateClipType(req.ContentType) {
		response.BadRequest(c, "unsupported clip content type")
		return
	}

	replyID := uuid.New()
	clipKey := storage.ClipKey(sessionID.String(), replyID.String())
	clipURL, err := h.s3.GeneratePresignedUploadURL(c.Request.Context(), clipKey, req.ContentType, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign clip upload failed", zap.Error(err))
		response.Internal(c, "failed to create upload url")
		return
	}

	resp := UploadURLResponse{
		ReplyID:       replyID.String(),
		ClipKey:       clipKey,
		ClipUploadURL: clipURL,
		MaxFileSize:   storage.MaxClipFileSize,
	}
	if req.ThumbContentType != "" {
		if !storage.ValidateClipType(req.ThumbContentType) {
			response.BadRequest(c, "unsupported thumbnail content type")
			return
		}
		thumbKey := storage.ThumbKey(sessionID.String(), replyID.String())
		thumbURL, err := h.s3.GeneratePresignedUploadURL(c.Request.Context(), thumbKey, req.ThumbContentType, h.s3.PresignExpire())
		if err != nil {
			h.logger.Error("presign thumb upload failed", zap.Error(err))
			response.Internal(c, "failed to create upload url")
			return
		}
		resp.ThumbKey = thumbKey
		resp.ThumbUploadURL = thumbURL
	}
	response.OK(c, resp)
}

// Create handles POST /sessions/:id/replies.
func (h *Handler) Create(c *gin.Context) {
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
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	replyID := uuid.MustParse(req.ReplyID)
	clipKey := storage.ClipKey(sessionID.String(), replyID.String())

	reply, err := h.repo.Create(c.Request.Context(), replyID, sessionID, senderID, clipKey, req.ThumbKey)
	if err != nil {
		h.logger.Error("reply insert failed", zap.Error(err))
		response.Internal(c, "failed to create reply")
		return
	}
	if h.broadcaster != nil {
		h.broadcaster.Broadcast(sessionID, "video_reply", reply)
	}
	response.Created(c, reply)
}

// replyView is a reply row with presigned download URLs attached.
type replyView struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	SenderID    string `json:"sender_id"`
	ClipURL     string `json:"clip_url"`
	ThumbURL    string `json:"thumb_url,omitempty"`
	CreatedAtMS int64  `json:"created_at_ms"`
}

// List handles GET /sessions/:id/replies.
func (h *Handler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	rows, err := h.repo.ListBySession(c.Request.Context(), sessionID, 100)
	if err != nil {
		h.logger.Error("reply list failed", zap.Error(err))
		response.Internal(c, "failed to load replies")
		return
	}

	out := make([]replyView, 0, len(rows))
	for _, r := range rows {
		v := replyView{
			ID:          r.ID.String(),
			SessionID:   r.SessionID.String(),
			SenderID:    r.SenderID.String(),
			CreatedAtMS: r.CreatedAt.UnixMilli(),
		}
		if url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), r.ClipKey, h.s3.PresignExpire()); err == nil {
			v.ClipURL = url
		}
		if r.ThumbKey != "" {
			if url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), r.ThumbKey, h.s3.PresignExpire()); err == nil {
				v.ThumbURL = url
			}
		}
		out = append(out, v)
	}
	response.OK(c, out)
}
