package models

import (
	"time"

	"github.com/google/uuid"
)

// ArenaStatus is the lifecycle state of an arena session.
type ArenaStatus string

const (
	ArenaLobby         ArenaStatus = "LOBBY"
	ArenaStarting      ArenaStatus = "STARTING"
	ArenaInProgress    ArenaStatus = "IN_PROGRESS"
	ArenaBetweenRounds ArenaStatus = "BETWEEN_ROUNDS"
	ArenaCompleted     ArenaStatus = "COMPLETED"
	ArenaCancelled     ArenaStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s ArenaStatus) Terminal() bool {
	return s == ArenaCompleted || s == ArenaCancelled
}

// ContentSource identifies where an arena's question set comes from.
type ContentSource string

const (
	SourceAIGenerated  ContentSource = "AI_GENERATED"
	SourceUpload       ContentSource = "UPLOAD"
	SourceStudyHistory ContentSource = "STUDY_HISTORY"
	SourceDeck         ContentSource = "DECK"
	SourceCustom       ContentSource = "CUSTOM"
)

// Valid reports whether s is a known content source.
func (s ContentSource) Valid() bool {
	switch s {
	case SourceAIGenerated, SourceUpload, SourceStudyHistory, SourceDeck, SourceCustom:
		return true
	}
	return false
}

// ArenaSession is one competitive round.
type ArenaSession struct {
	ID              uuid.UUID     `json:"id"`
	HostID          uuid.UUID     `json:"host_id"`
	Title           string        `json:"title"`
	InviteCode      string        `json:"invite_code"`
	ContentSource   ContentSource `json:"content_source"`
	ContentRef      string        `json:"content_ref,omitempty"` // deck id, upload key or AI topic
	QuestionCount   int           `json:"question_count"`
	TimePerQuestion int           `json:"time_per_question"` // seconds
	MaxPlayers      int           `json:"max_players"`
	HostSpectator   bool          `json:"host_spectator"`
	Status          ArenaStatus   `json:"status"`
	CurrentQuestion int           `json:"current_question"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// ArenaParticipant is one user's membership in one arena.
type ArenaParticipant struct {
	ID             uuid.UUID `json:"id"`
	ArenaID        uuid.UUID `json:"arena_id"`
	UserID         uuid.UUID `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	TotalScore     int       `json:"total_score"`
	CorrectAnswers int       `json:"correct_answers"`
	CurrentStreak  int       `json:"current_streak"`
	BestStreak     int       `json:"best_streak"`
	FinalRank      *int      `json:"final_rank,omitempty"`
	XPEarned       *int      `json:"xp_earned,omitempty"`
	Connected      bool      `json:"connected"`
	JoinedAt       time.Time `json:"joined_at"`
}

// ArenaQuestion is one question of an arena, addressed by its 1-based QuestionNumber.
type ArenaQuestion struct {
	ID             uuid.UUID  `json:"id"`
	ArenaID        uuid.UUID  `json:"arena_id"`
	QuestionNumber int        `json:"question_number"`
	Question       string     `json:"question"`
	Options        [4]string  `json:"options"`
	CorrectAnswer  int        `json:"-"`
	Explanation    string     `json:"explanation,omitempty"`
	BasePoints     int        `json:"base_points"`
	FlashcardID    *uuid.UUID `json:"flashcard_id,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// ArenaAnswer is one participant's response to one question.
type ArenaAnswer struct {
	ID             uuid.UUID `json:"id"`
	QuestionID     uuid.UUID `json:"question_id"`
	ParticipantID  uuid.UUID `json:"participant_id"`
	SelectedAnswer int       `json:"selected_answer"`
	IsCorrect      bool      `json:"is_correct"`
	ResponseTimeMs int       `json:"response_time_ms"`
	BasePoints     int       `json:"base_points"`
	TimeBonus      int       `json:"time_bonus"`
	StreakBonus    int       `json:"streak_bonus"`
	TotalPoints    int       `json:"total_points"`
	AnsweredAt     time.Time `json:"answered_at"`
}

// ArenaWeeklyStats is one user's rollup for one ISO week (WeekStart is Monday 00:00 UTC).
type ArenaWeeklyStats struct {
	UserID         uuid.UUID `json:"user_id"`
	WeekStart      time.Time `json:"week_start"`
	DisplayName    string    `json:"display_name"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	TotalXP        int       `json:"total_xp"`
	CorrectAnswers int       `json:"correct_answers"`
	BestStreak     int       `json:"best_streak"`
	GamesPlayed    int       `json:"games_played"`
	GamesWon       int       `json:"games_won"`
	CombinedScore  float64   `json:"combined_score"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GameResult is one completed arena's contribution to the weekly leaderboard.
type GameResult struct {
	ArenaID   uuid.UUID      `json:"arena_id"`
	WeekStart time.Time      `json:"week_start"`
	Players   []PlayerResult `json:"players"`
}

// PlayerResult is one participant's deltas from a completed arena.
type PlayerResult struct {
	UserID         uuid.UUID `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	XPEarned       int       `json:"xp_earned"`
	CorrectAnswers int       `json:"correct_answers"`
	BestStreak     int       `json:"best_streak"`
	Won            bool      `json:"won"`
}
