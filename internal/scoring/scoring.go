// Package scoring holds the pure arithmetic of the arena: per-answer points, end-of-game XP,
// the weekly combined score, ISO week boundaries and invite codes.
package scoring

import (
	"crypto/rand"
	"fmt"
	"math"
	"time"
)

const (
	// BasePoints is awarded for every correct answer.
	BasePoints = 1000
	// MaxTimeBonus is awarded for an instant correct answer and decays linearly to 0 at the time limit.
	MaxTimeBonus = 500
	// StreakStep is the bonus fraction of BasePoints added per streak step.
	StreakStep = 0.1
	// MaxStreakMultiplier caps the streak bonus at 50% of BasePoints.
	MaxStreakMultiplier = 0.5
	// DefaultTimeLimitSeconds is used when a caller passes a non-positive limit.
	DefaultTimeLimitSeconds = 20

	// ParticipationXP is granted to every finisher.
	ParticipationXP = 10

	// InviteCodeLength is the number of symbols in an invite code.
	InviteCodeLength = 6
	// InviteAlphabet has 32 symbols: A-Z without I, L, O and the digits 1-9.
	InviteAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ123456789"
)

// placementXP is indexed by final rank.
var placementXP = map[int]int{1: 100, 2: 50, 3: 25}

// Points is the breakdown of one scored answer.
type Points struct {
	Base        int `json:"base"`
	TimeBonus   int `json:"timeBonus"`
	StreakBonus int `json:"streakBonus"`
	Total       int `json:"total"`
}

// CalculatePoints scores one answer. streak is the participant's streak before this answer.
// Incorrect answers score zero. Negative inputs are clamped instead of rejected.
func CalculatePoints(isCorrect bool, responseTimeMs int, streak int, timeLimitSeconds int) Points {
	if !isCorrect {
		return Points{}
	}
	if responseTimeMs < 0 {
		responseTimeMs = 0
	}
	if streak < 0 {
		streak = 0
	}
	if timeLimitSeconds <= 0 {
		timeLimitSeconds = DefaultTimeLimitSeconds
	}

	timeRatio := math.Max(0, 1-float64(responseTimeMs)/float64(timeLimitSeconds*1000))
	timeBonus := int(math.Round(timeRatio * MaxTimeBonus))

	multiplier := math.Min(MaxStreakMultiplier, float64(streak)*StreakStep)
	streakBonus := int(math.Round(BasePoints * multiplier))

	return Points{
		Base:        BasePoints,
		TimeBonus:   timeBonus,
		StreakBonus: streakBonus,
		Total:       BasePoints + timeBonus + streakBonus,
	}
}

// CalculateXPReward returns the XP granted for finishing a game with finalScore at rank out of totalPlayers.
// The placement bonus is scaled down for games with fewer than three players.
func CalculateXPReward(finalScore, rank, totalPlayers int) int {
	if finalScore < 0 {
		finalScore = 0
	}
	baseXP := int(math.Round(float64(finalScore) / 100))

	placement := 0
	if totalPlayers > 0 {
		scale := math.Min(1, float64(totalPlayers)/3)
		placement = int(math.Round(float64(placementXP[rank]) * scale))
	}
	return baseXP + placement + ParticipationXP
}

// CalculateCombinedScore weighs XP, accuracy and the best streak into the weekly ranking score.
func CalculateCombinedScore(totalXP, correctAnswers, bestStreak int) float64 {
	return float64(totalXP)*0.4 + float64(correctAnswers)*0.3 + float64(bestStreak)*100*0.3
}

// CurrentWeekStart returns Monday 00:00:00.000 UTC of the ISO week containing t.
func CurrentWeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}

// CurrentWeekEnd returns Sunday 23:59:59.999 UTC of the ISO week containing t.
func CurrentWeekEnd(t time.Time) time.Time {
	return CurrentWeekStart(t).AddDate(0, 0, 7).Add(-time.Millisecond)
}

// GenerateInviteCode draws InviteCodeLength symbols uniformly from InviteAlphabet.
func GenerateInviteCode() (string, error) {
	buf := make([]byte, InviteCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	code := make([]byte, InviteCodeLength)
	for i, b := range buf {
		// 256 is a multiple of 32, so masking keeps the distribution uniform.
		code[i] = InviteAlphabet[int(b)&(len(InviteAlphabet)-1)]
	}
	return string(code), nil
}
