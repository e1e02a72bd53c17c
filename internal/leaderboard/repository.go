package leaderboard

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/practice-arena/backend/internal/models"
)

// Repository is the Postgres Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a leaderboard repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const statsColumns = `user_id, week_start, display_name, COALESCE(avatar_url, ''), total_xp, correct_answers,
	best_streak, games_played, games_won, combined_score, updated_at`

func scanStats(row pgx.Row, s *models.ArenaWeeklyStats) error {
	return row.Scan(&s.UserID, &s.WeekStart, &s.DisplayName, &s.AvatarURL, &s.TotalXP, &s.CorrectAnswers,
		&s.BestStreak, &s.GamesPlayed, &s.GamesWon, &s.CombinedScore, &s.UpdatedAt)
}

// ApplyGame records the arena marker and upserts every player's row in one transaction.
// Players are locked in user id order so concurrent games cannot deadlock.
func (r *Repository) ApplyGame(ctx context.Context, result models.GameResult, score ScoreFunc) ([]models.ArenaWeeklyStats, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const mark = `INSERT INTO arena_results_applied (arena_id, week_start, applied_at) VALUES ($1, $2, NOW())
		ON CONFLICT (arena_id) DO NOTHING`
	tag, err := tx.Exec(ctx, mark, result.ArenaID, result.WeekStart)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyApplied
	}

	players := append([]models.PlayerResult(nil), result.Players...)
	sort.Slice(players, func(i, j int) bool {
		return bytes.Compare(players[i].UserID[:], players[j].UserID[:]) < 0
	})

	const upsert = `INSERT INTO arena_weekly_stats (user_id, week_start, display_name, avatar_url, total_xp,
			correct_answers, best_streak, games_played, games_won, combined_score, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, 1, $8, 0, NOW())
		ON CONFLICT (user_id, week_start) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			total_xp = arena_weekly_stats.total_xp + EXCLUDED.total_xp,
			correct_answers = arena_weekly_stats.correct_answers + EXCLUDED.correct_answers,
			best_streak = GREATEST(arena_weekly_stats.best_streak, EXCLUDED.best_streak),
			games_played = arena_weekly_stats.games_played + 1,
			games_won = arena_weekly_stats.games_won + EXCLUDED.games_won,
			updated_at = NOW()
		RETURNING ` + statsColumns
	const rescore = `UPDATE arena_weekly_stats SET combined_score = $3 WHERE user_id = $1 AND week_start = $2`

	rows := make([]models.ArenaWeeklyStats, 0, len(players))
	for _, p := range players {
		won := 0
		if p.Won {
			won = 1
		}
		var s models.ArenaWeeklyStats
		if err := scanStats(tx.QueryRow(ctx, upsert, p.UserID, result.WeekStart, p.DisplayName, p.AvatarURL,
			p.XPEarned, p.CorrectAnswers, p.BestStreak, won), &s); err != nil {
			return nil, err
		}
		s.CombinedScore = score(s.TotalXP, s.CorrectAnswers, s.BestStreak)
		if _, err := tx.Exec(ctx, rescore, s.UserID, s.WeekStart, s.CombinedScore); err != nil {
			return nil, err
		}
		rows = append(rows, s)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

// WeeklyStats returns a week's rows in rank order.
func (r *Repository) WeeklyStats(ctx context.Context, weekStart time.Time, limit int) ([]models.ArenaWeeklyStats, error) {
	query := `SELECT ` + statsColumns + ` FROM arena_weekly_stats WHERE week_start = $1
		ORDER BY combined_score DESC, total_xp DESC, correct_answers DESC, user_id
		LIMIT NULLIF($2, 0)`
	rows, err := r.pool.Query(ctx, query, weekStart, limit)
	if err != nil {
		return nil, err
	}
	return collectStats(rows)
}

// StatsForUsers returns the week's rows of the given users in no particular order.
func (r *Repository) StatsForUsers(ctx context.Context, weekStart time.Time, userIDs []uuid.UUID) ([]models.ArenaWeeklyStats, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + statsColumns + ` FROM arena_weekly_stats WHERE week_start = $1 AND user_id = ANY($2)`
	rows, err := r.pool.Query(ctx, query, weekStart, userIDs)
	if err != nil {
		return nil, err
	}
	return collectStats(rows)
}

func collectStats(rows pgx.Rows) ([]models.ArenaWeeklyStats, error) {
	defer rows.Close()
	var list []models.ArenaWeeklyStats
	for rows.Next() {
		var s models.ArenaWeeklyStats
		if err := scanStats(rows, &s); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
