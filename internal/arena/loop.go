package arena

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/practice-arena/backend/internal/broadcast"
	"github.com/practice-arena/backend/internal/models"
	"github.com/practice-arena/backend/internal/scoring"
)

// run drives one arena from countdown to completion. It exits early when ctx is cancelled.
func (s *Service) run(ctx context.Context, arenaID uuid.UUID, room *Room) {
	defer s.wg.Done()
	defer close(room.done)

	log := s.logger.With(zap.String("arena_id", arenaID.String()))

	if !sleep(ctx, s.cfg.Countdown) {
		log.Info("arena loop stopped during countdown")
		return
	}

	total := len(room.questions)
	for i := 0; i < total; i++ {
		limit, ok := s.openQuestion(ctx, room, i)
		if !ok {
			return
		}
		timer := time.NewTimer(limit)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("arena loop stopped", zap.Int("question", i+1))
			return
		case <-timer.C:
		case <-room.allAnswered:
			timer.Stop()
		}
		if !s.closeQuestion(ctx, room, i) {
			return
		}
		if i < total-1 && !sleep(ctx, s.cfg.RoundPause) {
			return
		}
	}
	s.complete(ctx, arenaID, room)
	s.rooms.remove(arenaID)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// openQuestion moves the arena to IN_PROGRESS on question index i and returns its time limit.
func (s *Service) openQuestion(ctx context.Context, room *Room, i int) (time.Duration, bool) {
	room.mu.Lock()
	defer room.mu.Unlock()
	switch room.session.Status {
	case models.ArenaStarting, models.ArenaBetweenRounds:
	default:
		return 0, false
	}
	room.drainSignal()

	now := s.now()
	q := &room.questions[i]
	q.StartedAt = &now
	room.active = i
	room.session.Status = models.ArenaInProgress
	room.session.CurrentQuestion = q.QuestionNumber

	s.persistWindow(ctx, q)
	s.persistSession(ctx, &room.session)

	s.publisher.Publish(room.session.ID, broadcast.QuestionStart{
		QuestionID:     q.ID,
		QuestionNumber: q.QuestionNumber,
		Question:       q.Question,
		Options:        q.Options,
		TimeLimit:      room.session.TimePerQuestion,
		BasePoints:     q.BasePoints,
	})
	return time.Duration(room.session.TimePerQuestion) * time.Second, true
}

// closeQuestion reveals question i, resets the streak of everyone who missed it and
// publishes the standings.
func (s *Service) closeQuestion(ctx context.Context, room *Room, i int) bool {
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.session.Status != models.ArenaInProgress || room.active != i {
		return false
	}

	now := s.now()
	q := &room.questions[i]
	q.EndedAt = &now
	answers := room.answers[q.ID]

	var stats broadcast.QuestionStats
	var totalMs int
	for _, a := range answers {
		stats.TotalAnswered++
		totalMs += a.ResponseTimeMs
		if a.IsCorrect {
			stats.CorrectCount++
		}
	}
	if stats.TotalAnswered > 0 {
		stats.AvgResponseTime = float64(totalMs) / float64(stats.TotalAnswered)
	}

	var missed []models.ArenaParticipant
	for _, p := range room.participants {
		if _, ok := answers[p.ID]; !ok && p.CurrentStreak != 0 {
			p.CurrentStreak = 0
			missed = append(missed, *p)
		}
	}

	room.active = -1
	room.session.Status = models.ArenaBetweenRounds
	s.persistWindow(ctx, q)
	s.persistSession(ctx, &room.session)
	if len(missed) > 0 {
		if err := s.store.UpdateParticipants(ctx, missed); err != nil {
			s.logger.Warn("persist streak reset failed", zap.String("arena_id", room.session.ID.String()), zap.Error(err))
		}
	}

	s.publisher.Publish(room.session.ID, broadcast.QuestionEnd{
		QuestionNumber: q.QuestionNumber,
		CorrectAnswer:  q.CorrectAnswer,
		Explanation:    q.Explanation,
		Stats:          stats,
	})

	ordered := standings(room.participants)
	ranks := rankMap(ordered)
	rankings := make([]broadcast.Ranking, len(ordered))
	for idx, p := range ordered {
		change := 0
		if prev, ok := room.prevRanks[p.ID]; ok {
			change = prev - ranks[p.ID]
		}
		rankings[idx] = broadcast.Ranking{
			Rank:          idx + 1,
			ParticipantID: p.ID,
			UserName:      p.DisplayName,
			AvatarURL:     p.AvatarURL,
			Score:         p.TotalScore,
			Change:        change,
			Streak:        p.CurrentStreak,
		}
	}
	room.prevRanks = ranks
	s.publisher.Publish(room.session.ID, broadcast.LeaderboardUpdate{
		Rankings:       rankings,
		QuestionNumber: q.QuestionNumber,
	})
	return true
}

// completionTimeout bounds the final writes once a game has ended.
const completionTimeout = 30 * time.Second

// complete assigns final ranks and XP, publishes game_end and hands the result to the leaderboard.
// The final writes outlive a shutdown that cancels ctx.
func (s *Service) complete(ctx context.Context, arenaID uuid.UUID, room *Room) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completionTimeout)
	defer cancel()

	room.mu.Lock()
	if room.session.Status != models.ArenaBetweenRounds {
		room.mu.Unlock()
		return
	}
	now := s.now()
	ordered := standings(room.participants)
	n := len(ordered)

	result := models.GameResult{ArenaID: arenaID, WeekStart: scoring.CurrentWeekStart(now)}
	finals := make([]broadcast.FinalRanking, n)
	updated := make([]models.ArenaParticipant, n)
	totalXP, totalCorrect := 0, 0
	for i, p := range ordered {
		rank := i + 1
		xp := scoring.CalculateXPReward(p.TotalScore, rank, n)
		p.FinalRank = &rank
		p.XPEarned = &xp
		updated[i] = *p
		totalXP += xp
		totalCorrect += p.CorrectAnswers

		finals[i] = broadcast.FinalRanking{
			Rank:           rank,
			ParticipantID:  p.ID,
			UserName:       p.DisplayName,
			AvatarURL:      p.AvatarURL,
			Score:          p.TotalScore,
			CorrectAnswers: p.CorrectAnswers,
			BestStreak:     p.BestStreak,
			XPEarned:       xp,
		}
		result.Players = append(result.Players, models.PlayerResult{
			UserID:         p.UserID,
			DisplayName:    p.DisplayName,
			AvatarURL:      p.AvatarURL,
			XPEarned:       xp,
			CorrectAnswers: p.CorrectAnswers,
			BestStreak:     p.BestStreak,
			Won:            rank == 1,
		})
	}

	room.session.Status = models.ArenaCompleted
	room.session.EndedAt = &now
	room.session.CurrentQuestion = room.session.QuestionCount
	if err := s.store.UpdateParticipants(ctx, updated); err != nil {
		s.logger.Error("persist final standings failed", zap.String("arena_id", arenaID.String()), zap.Error(err))
	}
	s.persistSession(ctx, &room.session)

	s.publisher.Publish(arenaID, broadcast.GameEnd{
		FinalRankings: finals,
		Stats: broadcast.GameStats{
			TotalQuestions: len(room.questions),
			AvgAccuracy:    accuracy(totalCorrect, n*len(room.questions)),
			TotalXPAwarded: totalXP,
		},
	})
	room.mu.Unlock()

	s.logger.Info("arena completed",
		zap.String("arena_id", arenaID.String()),
		zap.Int("players", n),
		zap.Int("xp_awarded", totalXP))

	if s.stats == nil || n == 0 {
		return
	}
	if err := s.stats.RecordGame(ctx, result); err != nil {
		s.logger.Error("record weekly stats failed", zap.String("arena_id", result.ArenaID.String()), zap.Error(err))
	}
}

// accuracy returns correct/attempts as a percentage with one decimal.
func accuracy(correct, attempts int) float64 {
	if attempts <= 0 {
		return 0
	}
	return math.Round(float64(correct)/float64(attempts)*1000) / 10
}

func (s *Service) persistSession(ctx context.Context, session *models.ArenaSession) {
	if err := s.store.UpdateSessionState(ctx, session); err != nil {
		s.logger.Warn("persist session state failed",
			zap.String("arena_id", session.ID.String()),
			zap.String("status", string(session.Status)),
			zap.Error(err))
	}
}

func (s *Service) persistWindow(ctx context.Context, q *models.ArenaQuestion) {
	if err := s.store.SetQuestionWindow(ctx, q.ID, q.StartedAt, q.EndedAt); err != nil {
		s.logger.Warn("persist question window failed", zap.String("question_id", q.ID.String()), zap.Error(err))
	}
}
