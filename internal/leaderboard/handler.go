package leaderboard

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/practice-arena/backend/pkg/response"
)

// Handler serves the weekly leaderboard.
type Handler struct {
	agg    *Aggregator
	now    func() time.Time
	logger *zap.Logger
}

// NewHandler creates a leaderboard handler.
func NewHandler(agg *Aggregator, logger *zap.Logger) *Handler {
	return &Handler{agg: agg, now: time.Now, logger: logger}
}

// Weekly handles GET /leaderboard/weekly?week_start=YYYY-MM-DD&limit=N.
// Any date inside the week selects it; no date selects the current week.
func (h *Handler) Weekly(c *gin.Context) {
	week := h.now()
	if raw := c.Query("week_start"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.BadRequest(c, "week_start must be YYYY-MM-DD")
			return
		}
		week = t
	}
	limit := DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}
	board, err := h.agg.GetWeeklyLeaderboard(c.Request.Context(), week, limit)
	if err != nil {
		h.logger.Error("weekly leaderboard failed", zap.Error(err))
		response.Internal(c, "failed to load leaderboard")
		return
	}
	response.OK(c, board)
}
