package arena

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/practice-arena/backend/internal/content"
	"github.com/practice-arena/backend/internal/models"
)

var (
	// ErrNoRecord is returned by a Store when the requested row does not exist.
	ErrNoRecord = errors.New("record not found")
	// ErrConflict is returned by a Store when a uniqueness constraint rejects a write.
	ErrConflict = errors.New("conflicting record")
)

// Store persists arena state. Every write is made while the arena's room lock is held.
type Store interface {
	CreateSession(ctx context.Context, s *models.ArenaSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.ArenaSession, error)
	GetSessionByInviteCode(ctx context.Context, code string) (*models.ArenaSession, error)
	UpdateSessionState(ctx context.Context, s *models.ArenaSession) error

	AddParticipant(ctx context.Context, p *models.ArenaParticipant) error
	RemoveParticipant(ctx context.Context, arenaID, userID uuid.UUID) error
	ListParticipants(ctx context.Context, arenaID uuid.UUID) ([]models.ArenaParticipant, error)
	UpdateParticipants(ctx context.Context, ps []models.ArenaParticipant) error

	InsertQuestions(ctx context.Context, qs []models.ArenaQuestion) error
	ListQuestions(ctx context.Context, arenaID uuid.UUID) ([]models.ArenaQuestion, error)
	SetQuestionWindow(ctx context.Context, questionID uuid.UUID, startedAt, endedAt *time.Time) error

	// RecordAnswer inserts a unless an answer for the same (question, participant) exists, and
	// in the same transaction writes p's score fields. It reports whether a was inserted.
	RecordAnswer(ctx context.Context, a *models.ArenaAnswer, p *models.ArenaParticipant) (bool, error)
}

// QuestionSource produces validated questions for an arena.
type QuestionSource interface {
	GenerateQuestions(ctx context.Context, source models.ContentSource, req content.Request) ([]content.GeneratedQuestion, error)
}

// UserDirectory resolves the display snapshot taken at join time.
type UserDirectory interface {
	Profile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error)
}

// StatsRecorder applies a completed game to the weekly leaderboard.
type StatsRecorder interface {
	RecordGame(ctx context.Context, result models.GameResult) error
}
