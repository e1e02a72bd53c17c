package broadcast

import (
	"github.com/google/uuid"
)

// EventType is the wire name of an arena event.
type EventType string

const (
	TypePlayerJoined      EventType = "player_joined"
	TypePlayerLeft        EventType = "player_left"
	TypeGameStarting      EventType = "game_starting"
	TypeQuestionStart     EventType = "question_start"
	TypeAnswerSubmitted   EventType = "answer_submitted"
	TypeQuestionEnd       EventType = "question_end"
	TypeLeaderboardUpdate EventType = "leaderboard_update"
	TypeGameEnd           EventType = "game_end"
	TypeGameCancelled     EventType = "game_cancelled"
)

// Event is the closed set of arena events. Only the types in this file implement it.
type Event interface {
	Type() EventType
	sealed()
}

// PlayerJoined is published when a participant joins the lobby.
type PlayerJoined struct {
	ParticipantID uuid.UUID `json:"participantId"`
	UserName      string    `json:"userName"`
	AvatarURL     string    `json:"avatarUrl"`
	PlayerCount   int       `json:"playerCount"`
}

// PlayerLeft is published when a participant leaves the lobby.
type PlayerLeft struct {
	ParticipantID uuid.UUID `json:"participantId"`
	UserName      string    `json:"userName"`
	PlayerCount   int       `json:"playerCount"`
}

// GameStarting announces the countdown before the first question.
type GameStarting struct {
	CountdownSeconds int `json:"countdownSeconds"`
	TotalQuestions   int `json:"totalQuestions"`
}

// QuestionStart opens a question. The correct answer is never part of it.
type QuestionStart struct {
	QuestionID     uuid.UUID `json:"questionId"`
	QuestionNumber int       `json:"questionNumber"`
	Question       string    `json:"question"`
	Options        [4]string `json:"options"`
	TimeLimit      int       `json:"timeLimit"`
	BasePoints     int       `json:"basePoints"`
}

// AnswerSubmitted is a progress counter; it never carries the chosen option.
type AnswerSubmitted struct {
	ParticipantID     uuid.UUID `json:"participantId"`
	AnsweredCount     int       `json:"answeredCount"`
	TotalParticipants int       `json:"totalParticipants"`
}

// QuestionStats aggregates one closed question.
type QuestionStats struct {
	CorrectCount    int     `json:"correctCount"`
	TotalAnswered   int     `json:"totalAnswered"`
	AvgResponseTime float64 `json:"avgResponseTime"`
}

// QuestionEnd reveals the correct answer of a closed question.
type QuestionEnd struct {
	QuestionNumber int           `json:"questionNumber"`
	CorrectAnswer  int           `json:"correctAnswer"`
	Explanation    string        `json:"explanation,omitempty"`
	Stats          QuestionStats `json:"stats"`
}

// Ranking is one row of a leaderboard_update.
type Ranking struct {
	Rank          int       `json:"rank"`
	ParticipantID uuid.UUID `json:"participantId"`
	UserName      string    `json:"userName"`
	AvatarURL     string    `json:"avatarUrl"`
	Score         int       `json:"score"`
	Change        int       `json:"change"`
	Streak        int       `json:"streak"`
}

// LeaderboardUpdate carries the standings after a question closes.
type LeaderboardUpdate struct {
	Rankings       []Ranking `json:"rankings"`
	QuestionNumber int       `json:"questionNumber"`
}

// FinalRanking is one row of game_end.
type FinalRanking struct {
	Rank           int       `json:"rank"`
	ParticipantID  uuid.UUID `json:"participantId"`
	UserName       string    `json:"userName"`
	AvatarURL      string    `json:"avatarUrl"`
	Score          int       `json:"score"`
	CorrectAnswers int       `json:"correctAnswers"`
	BestStreak     int       `json:"bestStreak"`
	XPEarned       int       `json:"xpEarned"`
}

// GameStats summarises a completed game.
type GameStats struct {
	TotalQuestions int     `json:"totalQuestions"`
	AvgAccuracy    float64 `json:"avgAccuracy"`
	TotalXPAwarded int     `json:"totalXPAwarded"`
}

// GameEnd carries the final standings.
type GameEnd struct {
	FinalRankings []FinalRanking `json:"finalRankings"`
	Stats         GameStats      `json:"stats"`
}

// GameCancelled tells subscribers the host cancelled before the first question.
type GameCancelled struct {
	ArenaID uuid.UUID `json:"arenaId"`
}

func (PlayerJoined) Type() EventType      { return TypePlayerJoined }
func (PlayerLeft) Type() EventType        { return TypePlayerLeft }
func (GameStarting) Type() EventType      { return TypeGameStarting }
func (QuestionStart) Type() EventType     { return TypeQuestionStart }
func (AnswerSubmitted) Type() EventType   { return TypeAnswerSubmitted }
func (QuestionEnd) Type() EventType       { return TypeQuestionEnd }
func (LeaderboardUpdate) Type() EventType { return TypeLeaderboardUpdate }
func (GameEnd) Type() EventType           { return TypeGameEnd }
func (GameCancelled) Type() EventType     { return TypeGameCancelled }

func (PlayerJoined) sealed()      {}
func (PlayerLeft) sealed()        {}
func (GameStarting) sealed()      {}
func (QuestionStart) sealed()     {}
func (AnswerSubmitted) sealed()   {}
func (QuestionEnd) sealed()       {}
func (LeaderboardUpdate) sealed() {}
func (GameEnd) sealed()           {}
func (GameCancelled) sealed()     {}

// ChannelName returns the pub/sub channel of an arena.
func ChannelName(arenaID uuid.UUID) string {
	return ChannelPrefix + arenaID.String()
}

// ChannelPrefix prefixes every arena channel.
const ChannelPrefix = "arena:"
