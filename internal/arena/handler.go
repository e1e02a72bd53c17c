package arena

import (
	"context"
	"errors"
	"net"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/practice-arena/backend/internal/content"
	"github.com/practice-arena/backend/internal/middleware"
	"github.com/practice-arena/backend/internal/models"
	"github.com/practice-arena/backend/pkg/response"
)

// CreateRequest is the body for POST /arenas.
type CreateRequest struct {
	Title           string                      `json:"title"`
	ContentSource   string                      `json:"content_source" binding:"required,oneof=AI_GENERATED UPLOAD STUDY_HISTORY DECK CUSTOM"`
	ContentRef      string                      `json:"content_ref"`
	QuestionCount   int                         `json:"question_count"`
	TimePerQuestion int                         `json:"time_per_question"`
	MaxPlayers      int                         `json:"max_players"`
	HostSpectator   bool                        `json:"host_spectator"`
	Questions       []content.GeneratedQuestion `json:"questions"`
}

// JoinRequest is the body for POST /arenas/join.
type JoinRequest struct {
	InviteCode string `json:"invite_code" binding:"required"`
}

// AnswerRequest is the body for POST /arenas/:id/answers.
type AnswerRequest struct {
	QuestionID     string `json:"question_id" binding:"required,uuid"`
	SelectedAnswer *int   `json:"selected_answer" binding:"required,min=0,max=3"`
	ResponseTimeMs int    `json:"response_time_ms" binding:"min=0"`
}

// Handler serves the arena HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an arena handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Create handles POST /arenas.
func (h *Handler) Create(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	session, err := h.svc.Create(c.Request.Context(), CreateParams{
		HostID:          userID,
		Title:           req.Title,
		ContentSource:   models.ContentSource(req.ContentSource),
		ContentRef:      req.ContentRef,
		QuestionCount:   req.QuestionCount,
		TimePerQuestion: req.TimePerQuestion,
		MaxPlayers:      req.MaxPlayers,
		HostSpectator:   req.HostSpectator,
		CustomQuestions: req.Questions,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, session)
}

// Join handles POST /arenas/join.
func (h *Handler) Join(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.svc.JoinByCode(c.Request.Context(), req.InviteCode, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, p)
}

// Start handles POST /arenas/:id/start (host only).
func (h *Handler) Start(c *gin.Context) {
	arenaID, ok := arenaParam(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	session, err := h.svc.Start(c.Request.Context(), arenaID, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, session)
}

// Answer handles POST /arenas/:id/answers.
func (h *Handler) Answer(c *gin.Context) {
	arenaID, ok := arenaParam(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	answer, err := h.svc.SubmitAnswer(c.Request.Context(), SubmitParams{
		ArenaID:        arenaID,
		QuestionID:     uuid.MustParse(req.QuestionID),
		UserID:         userID,
		SelectedAnswer: *req.SelectedAnswer,
		ResponseTimeMs: req.ResponseTimeMs,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, answer)
}

// Cancel handles POST /arenas/:id/cancel (host only).
func (h *Handler) Cancel(c *gin.Context) {
	arenaID, ok := arenaParam(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.svc.Cancel(c.Request.Context(), arenaID, userID); err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"id": arenaID, "status": models.ArenaCancelled})
}

// Leave handles POST /arenas/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	arenaID, ok := arenaParam(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.svc.Leave(c.Request.Context(), arenaID, userID); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

// Get handles GET /arenas/:id.
func (h *Handler) Get(c *gin.Context) {
	arenaID, ok := arenaParam(c)
	if !ok {
		return
	}
	snap, err := h.svc.Snapshot(c.Request.Context(), arenaID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, snap)
}

func arenaParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid arena id")
		return uuid.Nil, false
	}
	return id, true
}

// fail maps service errors to HTTP responses.
func (h *Handler) fail(c *gin.Context, err error) {
	var (
		validation *ValidationError
		capacity   *CapacityError
		notFound   *NotFoundError
		duplicate  *DuplicateJoinError
		answered   *AlreadyAnsweredError
		generation *ContentGenerationFailure
	)
	switch {
	case errors.Is(err, ErrNotHost):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrInvalidPhase):
		response.Conflict(c, err.Error())
	case errors.As(err, &validation):
		response.BadRequest(c, err.Error())
	case errors.As(err, &notFound):
		response.NotFound(c, err.Error())
	case errors.As(err, &capacity), errors.As(err, &duplicate), errors.As(err, &answered):
		response.Conflict(c, err.Error())
	case errors.As(err, &generation) && timedOut(err):
		response.ServiceUnavailable(c, err.Error())
	case errors.As(err, &generation):
		response.BadGateway(c, err.Error())
	default:
		h.logger.Error("arena request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.Internal(c, "internal error")
	}
}

func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
