package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/practice-arena/backend/internal/models"
	"github.com/practice-arena/backend/internal/scoring"
)

const (
	// DefaultLimit is the page size when the caller asks for none.
	DefaultLimit = 50
	// MaxLimit caps a single leaderboard read.
	MaxLimit = 100
)

// ErrAlreadyApplied is returned by a Store when a game's results were recorded before.
var ErrAlreadyApplied = errors.New("game results already applied")

// ScoreFunc computes the ranking score from a user's weekly totals.
type ScoreFunc func(totalXP, correctAnswers, bestStreak int) float64

// Store persists weekly rollups.
type Store interface {
	// ApplyGame adds each player's deltas to their row for result.WeekStart, recomputes the
	// combined score with score, and returns the updated rows. It is atomic and returns
	// ErrAlreadyApplied when result.ArenaID was applied before.
	ApplyGame(ctx context.Context, result models.GameResult, score ScoreFunc) ([]models.ArenaWeeklyStats, error)
	// WeeklyStats returns the week's rows in rank order. limit <= 0 returns all rows.
	WeeklyStats(ctx context.Context, weekStart time.Time, limit int) ([]models.ArenaWeeklyStats, error)
	StatsForUsers(ctx context.Context, weekStart time.Time, userIDs []uuid.UUID) ([]models.ArenaWeeklyStats, error)
}

// Cache holds the per-week ranking order.
type Cache interface {
	// Update raises the cached scores of rows, warm week or not. A lower score never
	// replaces a higher one.
	Update(ctx context.Context, weekStart time.Time, rows []models.ArenaWeeklyStats) error
	// Warm merges the complete ranking of a week under the same rule and marks it complete.
	Warm(ctx context.Context, weekStart time.Time, rows []models.ArenaWeeklyStats) error
	// Top returns the highest ranked users; ok is false until the week has been warmed.
	Top(ctx context.Context, weekStart time.Time, limit int) (ids []uuid.UUID, ok bool, err error)
}

// Entry is one ranked row of the weekly leaderboard.
type Entry struct {
	Rank           int       `json:"rank"`
	UserID         uuid.UUID `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	TotalXP        int       `json:"total_xp"`
	CorrectAnswers int       `json:"correct_answers"`
	BestStreak     int       `json:"best_streak"`
	GamesPlayed    int       `json:"games_played"`
	GamesWon       int       `json:"games_won"`
	CombinedScore  float64   `json:"combined_score"`
}

// Weekly is the leaderboard of one ISO week.
type Weekly struct {
	WeekStart time.Time `json:"week_start"`
	WeekEnd   time.Time `json:"week_end"`
	Entries   []Entry   `json:"entries"`
}

// Aggregator rolls completed games into weekly stats and serves the ranking.
type Aggregator struct {
	store  Store
	cache  Cache
	logger *zap.Logger
}

// NewAggregator creates an aggregator. cache may be nil.
func NewAggregator(store Store, cache Cache, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, cache: cache, logger: logger}
}

// RecordGame applies one completed game. Replaying the same arena is a no-op.
func (a *Aggregator) RecordGame(ctx context.Context, result models.GameResult) error {
	if len(result.Players) == 0 {
		return nil
	}
	result.WeekStart = scoring.CurrentWeekStart(result.WeekStart)
	rows, err := a.store.ApplyGame(ctx, result, scoring.CalculateCombinedScore)
	if errors.Is(err, ErrAlreadyApplied) {
		a.logger.Info("game results already applied", zap.String("arena_id", result.ArenaID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply game %s: %w", result.ArenaID, err)
	}
	if a.cache != nil {
		if err := a.cache.Update(ctx, result.WeekStart, rows); err != nil {
			a.logger.Warn("leaderboard cache update failed", zap.Error(err), zap.String("arena_id", result.ArenaID.String()))
		}
	}
	a.logger.Info("game results applied",
		zap.String("arena_id", result.ArenaID.String()),
		zap.Time("week_start", result.WeekStart),
		zap.Int("players", len(rows)),
	)
	return nil
}

// GetWeeklyLeaderboard ranks the week containing weekStart by combined score.
func (a *Aggregator) GetWeeklyLeaderboard(ctx context.Context, weekStart time.Time, limit int) (*Weekly, error) {
	week := scoring.CurrentWeekStart(weekStart)
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	if a.cache != nil {
		ids, ok, err := a.cache.Top(ctx, week, limit)
		if err != nil {
			a.logger.Warn("leaderboard cache read failed", zap.Error(err))
		} else if ok {
			rows, err := a.store.StatsForUsers(ctx, week, ids)
			if err != nil {
				return nil, fmt.Errorf("stats for users: %w", err)
			}
			return build(week, rows, limit), nil
		}
	}

	storeLimit := limit
	if a.cache != nil {
		storeLimit = 0
	}
	rows, err := a.store.WeeklyStats(ctx, week, storeLimit)
	if err != nil {
		return nil, fmt.Errorf("weekly stats: %w", err)
	}
	if a.cache != nil && len(rows) > 0 {
		if err := a.cache.Warm(ctx, week, rows); err != nil {
			a.logger.Warn("leaderboard cache warm failed", zap.Error(err))
		}
	}
	return build(week, rows, limit), nil
}

func build(week time.Time, rows []models.ArenaWeeklyStats, limit int) *Weekly {
	sortRows(rows)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = Entry{
			Rank:           i + 1,
			UserID:         r.UserID,
			DisplayName:    r.DisplayName,
			AvatarURL:      r.AvatarURL,
			TotalXP:        r.TotalXP,
			CorrectAnswers: r.CorrectAnswers,
			BestStreak:     r.BestStreak,
			GamesPlayed:    r.GamesPlayed,
			GamesWon:       r.GamesWon,
			CombinedScore:  r.CombinedScore,
		}
	}
	return &Weekly{WeekStart: week, WeekEnd: scoring.CurrentWeekEnd(week), Entries: entries}
}

// sortRows orders by combined score, then XP, then correct answers, then user id.
func sortRows(rows []models.ArenaWeeklyStats) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if a.TotalXP != b.TotalXP {
			return a.TotalXP > b.TotalXP
		}
		if a.CorrectAnswers != b.CorrectAnswers {
			return a.CorrectAnswers > b.CorrectAnswers
		}
		return a.UserID.String() < b.UserID.String()
	})
}
