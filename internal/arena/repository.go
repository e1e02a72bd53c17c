package arena

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/practice-arena/backend/internal/models"
)

// Repository is the Postgres Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an arena repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoRecord
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

const sessionColumns = `id, host_id, title, invite_code, content_source, COALESCE(content_ref, ''), question_count,
	time_per_question, max_players, host_spectator, status, current_question, started_at, ended_at, created_at`

func scanSession(row pgx.Row) (*models.ArenaSession, error) {
	var s models.ArenaSession
	var source, status string
	err := row.Scan(&s.ID, &s.HostID, &s.Title, &s.InviteCode, &source, &s.ContentRef, &s.QuestionCount,
		&s.TimePerQuestion, &s.MaxPlayers, &s.HostSpectator, &status, &s.CurrentQuestion, &s.StartedAt, &s.EndedAt, &s.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	s.ContentSource = models.ContentSource(source)
	s.Status = models.ArenaStatus(status)
	return &s, nil
}

// CreateSession inserts a new session. An invite code clash with a live session is ErrConflict.
func (r *Repository) CreateSession(ctx context.Context, s *models.ArenaSession) error {
	const query = `INSERT INTO arena_sessions (id, host_id, title, invite_code, content_source, content_ref, question_count,
			time_per_question, max_players, host_spectator, status, current_question, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.pool.Exec(ctx, query, s.ID, s.HostID, s.Title, s.InviteCode, string(s.ContentSource), s.ContentRef,
		s.QuestionCount, s.TimePerQuestion, s.MaxPlayers, s.HostSpectator, string(s.Status), s.CurrentQuestion, s.CreatedAt)
	return mapErr(err)
}

// GetSession returns a session by ID.
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.ArenaSession, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM arena_sessions WHERE id = $1`, id))
}

// GetSessionByInviteCode returns the non-terminal session holding code.
func (r *Repository) GetSessionByInviteCode(ctx context.Context, code string) (*models.ArenaSession, error) {
	const where = ` FROM arena_sessions WHERE invite_code = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')`
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+where, code))
}

// UpdateSessionState writes the mutable lifecycle columns.
func (r *Repository) UpdateSessionState(ctx context.Context, s *models.ArenaSession) error {
	const query = `UPDATE arena_sessions SET status = $2, current_question = $3, started_at = $4, ended_at = $5
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, s.ID, string(s.Status), s.CurrentQuestion, s.StartedAt, s.EndedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRecord
	}
	return nil
}

const participantColumns = `id, arena_id, user_id, display_name, COALESCE(avatar_url, ''), total_score, correct_answers,
	current_streak, best_streak, final_rank, xp_earned, connected, joined_at`

// AddParticipant inserts a participant. A second row for the same (arena, user) is ErrConflict.
func (r *Repository) AddParticipant(ctx context.Context, p *models.ArenaParticipant) error {
	const query = `INSERT INTO arena_participants (id, arena_id, user_id, display_name, avatar_url, connected, joined_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`
	_, err := r.pool.Exec(ctx, query, p.ID, p.ArenaID, p.UserID, p.DisplayName, p.AvatarURL, p.Connected, p.JoinedAt)
	return mapErr(err)
}

// RemoveParticipant deletes a participant row.
func (r *Repository) RemoveParticipant(ctx context.Context, arenaID, userID uuid.UUID) error {
	const query = `DELETE FROM arena_participants WHERE arena_id = $1 AND user_id = $2`
	_, err := r.pool.Exec(ctx, query, arenaID, userID)
	return mapErr(err)
}

// ListParticipants returns an arena's participants in join order.
func (r *Repository) ListParticipants(ctx context.Context, arenaID uuid.UUID) ([]models.ArenaParticipant, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+participantColumns+` FROM arena_participants
		WHERE arena_id = $1 ORDER BY joined_at, id`, arenaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ArenaParticipant
	for rows.Next() {
		var p models.ArenaParticipant
		if err := rows.Scan(&p.ID, &p.ArenaID, &p.UserID, &p.DisplayName, &p.AvatarURL, &p.TotalScore, &p.CorrectAnswers,
			&p.CurrentStreak, &p.BestStreak, &p.FinalRank, &p.XPEarned, &p.Connected, &p.JoinedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

const updateParticipant = `UPDATE arena_participants SET total_score = $2, correct_answers = $3, current_streak = $4,
	best_streak = $5, final_rank = $6, xp_earned = $7, connected = $8 WHERE id = $1`

// UpdateParticipants writes the score, rank and presence columns of ps in one batch.
func (r *Repository) UpdateParticipants(ctx context.Context, ps []models.ArenaParticipant) error {
	if len(ps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range ps {
		batch.Queue(updateParticipant, p.ID, p.TotalScore, p.CorrectAnswers, p.CurrentStreak, p.BestStreak,
			p.FinalRank, p.XPEarned, p.Connected)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range ps {
		if _, err := br.Exec(); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

// InsertQuestions stores a question set in one batch.
func (r *Repository) InsertQuestions(ctx context.Context, qs []models.ArenaQuestion) error {
	const query = `INSERT INTO arena_questions (id, arena_id, question_number, question, options, correct_answer,
			explanation, base_points, flashcard_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`
	batch := &pgx.Batch{}
	for _, q := range qs {
		batch.Queue(query, q.ID, q.ArenaID, q.QuestionNumber, q.Question, q.Options[:], q.CorrectAnswer,
			q.Explanation, q.BasePoints, q.FlashcardID)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range qs {
		if _, err := br.Exec(); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

// ListQuestions returns an arena's questions ordered by number.
func (r *Repository) ListQuestions(ctx context.Context, arenaID uuid.UUID) ([]models.ArenaQuestion, error) {
	const query = `SELECT id, arena_id, question_number, question, options, correct_answer, COALESCE(explanation, ''),
			base_points, flashcard_id, started_at, ended_at
		FROM arena_questions WHERE arena_id = $1 ORDER BY question_number`
	rows, err := r.pool.Query(ctx, query, arenaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ArenaQuestion
	for rows.Next() {
		var q models.ArenaQuestion
		var options []string
		if err := rows.Scan(&q.ID, &q.ArenaID, &q.QuestionNumber, &q.Question, &options, &q.CorrectAnswer,
			&q.Explanation, &q.BasePoints, &q.FlashcardID, &q.StartedAt, &q.EndedAt); err != nil {
			return nil, err
		}
		copy(q.Options[:], options)
		list = append(list, q)
	}
	return list, rows.Err()
}

// SetQuestionWindow records when a question opened and closed.
func (r *Repository) SetQuestionWindow(ctx context.Context, questionID uuid.UUID, startedAt, endedAt *time.Time) error {
	const query = `UPDATE arena_questions SET started_at = $2, ended_at = $3 WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, questionID, startedAt, endedAt)
	return mapErr(err)
}

// RecordAnswer inserts the first answer of a participant to a question and updates their totals.
func (r *Repository) RecordAnswer(ctx context.Context, a *models.ArenaAnswer, p *models.ArenaParticipant) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	const insert = `INSERT INTO arena_answers (id, question_id, participant_id, selected_answer, is_correct, response_time_ms,
			base_points, time_bonus, streak_bonus, total_points, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (question_id, participant_id) DO NOTHING`
	tag, err := tx.Exec(ctx, insert, a.ID, a.QuestionID, a.ParticipantID, a.SelectedAnswer, a.IsCorrect, a.ResponseTimeMs,
		a.BasePoints, a.TimeBonus, a.StreakBonus, a.TotalPoints, a.AnsweredAt)
	if err != nil {
		return false, mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, updateParticipant, p.ID, p.TotalScore, p.CorrectAnswers, p.CurrentStreak, p.BestStreak,
		p.FinalRank, p.XPEarned, p.Connected); err != nil {
		return false, mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}
