package content

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/practice-arena/backend/internal/middleware"
	"github.com/practice-arena/backend/pkg/response"
	"github.com/practice-arena/backend/pkg/storage"
)

// UploadResponse is returned by POST /arenas/uploads.
type UploadResponse struct {
	Key           string `json:"key"`
	Title         string `json:"title,omitempty"`
	QuestionCount int    `json:"question_count"`
}

// Handler serves question set uploads.
type Handler struct {
	store  QuestionSetStore
	logger *zap.Logger
}

// NewHandler creates a content handler.
func NewHandler(store QuestionSetStore, logger *zap.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Upload handles POST /arenas/uploads. The body is either a multipart "file" field or raw JSON.
// The returned key is used as content_ref for UPLOAD arenas.
func (h *Handler) Upload(c *gin.Context) {
	hostID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var src io.Reader
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			response.BadRequest(c, "missing file field")
			return
		}
		if fh.Size > storage.MaxQuestionSetSize {
			response.BadRequest(c, "question set too large")
			return
		}
		f, err := fh.Open()
		if err != nil {
			response.BadRequest(c, "unreadable file")
			return
		}
		defer f.Close()
		src = f
	} else {
		src = http.MaxBytesReader(c.Writer, c.Request.Body, storage.MaxQuestionSetSize)
	}

	set, err := ParseQuestionSet(src)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	key, err := SaveQuestionSet(c.Request.Context(), h.store, hostID, set)
	if err != nil {
		if errors.Is(err, ErrInvalidQuestionSet) {
			response.BadRequest(c, err.Error())
			return
		}
		h.logger.Error("store question set", zap.String("host_id", hostID.String()), zap.Error(err))
		response.Internal(c, "failed to store question set")
		return
	}
	h.logger.Info("question set uploaded", zap.String("host_id", hostID.String()), zap.String("key", key),
		zap.Int("questions", len(set.Questions)))
	response.Created(c, UploadResponse{Key: key, Title: set.Title, QuestionCount: len(set.Questions)})
}
