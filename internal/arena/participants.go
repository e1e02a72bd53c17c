package arena

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"github.com/practice-arena/backend/internal/models"
)

// standings orders participants by total score, then correct answers, then join time.
// The returned slice shares pointers with the room.
func standings(ps []*models.ArenaParticipant) []*models.ArenaParticipant {
	out := make([]*models.ArenaParticipant, len(ps))
	copy(out, ps)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.CorrectAnswers != b.CorrectAnswers {
			return a.CorrectAnswers > b.CorrectAnswers
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
	return out
}

// rankMap returns the 1-based position of every participant in standings order.
func rankMap(ordered []*models.ArenaParticipant) map[uuid.UUID]int {
	m := make(map[uuid.UUID]int, len(ordered))
	for i, p := range ordered {
		m[p.ID] = i + 1
	}
	return m
}

// applyAnswer updates the running totals of p for one scored answer.
func applyAnswer(p *models.ArenaParticipant, a models.ArenaAnswer) {
	p.TotalScore += a.TotalPoints
	if a.IsCorrect {
		p.CorrectAnswers++
		p.CurrentStreak++
		if p.CurrentStreak > p.BestStreak {
			p.BestStreak = p.CurrentStreak
		}
		return
	}
	p.CurrentStreak = 0
}
