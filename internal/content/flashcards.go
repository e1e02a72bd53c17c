package content

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotEnoughCards is returned when a deck cannot supply three distinct distractors.
var ErrNotEnoughCards = errors.New("not enough distinct flashcards")

// Flashcard is the subset of a flashcard used to build questions.
type Flashcard struct {
	ID          uuid.UUID
	Front       string
	Back        string
	Explanation string
}

// FlashcardReader loads flashcards for question generation.
type FlashcardReader interface {
	DeckCards(ctx context.Context, deckID, userID uuid.UUID) ([]Flashcard, error)
	RecentlyStudied(ctx context.Context, userID uuid.UUID, limit int) ([]Flashcard, error)
}

// FlashcardRepository reads flashcards and study history from Postgres.
type FlashcardRepository struct {
	pool *pgxpool.Pool
}

// NewFlashcardRepository creates a flashcard repository.
func NewFlashcardRepository(pool *pgxpool.Pool) *FlashcardRepository {
	return &FlashcardRepository{pool: pool}
}

// DeckCards returns every card of a deck the user owns or that is public.
func (r *FlashcardRepository) DeckCards(ctx context.Context, deckID, userID uuid.UUID) ([]Flashcard, error) {
	const query = `SELECT f.id, f.front, f.back, COALESCE(f.explanation, '')
		FROM flashcards f
		JOIN decks d ON d.id = f.deck_id
		WHERE f.deck_id = $1 AND (d.user_id = $2 OR d.is_public)`
	rows, err := r.pool.Query(ctx, query, deckID, userID)
	if err != nil {
		return nil, err
	}
	return collectCards(rows)
}

// RecentlyStudied returns the user's most recently reviewed cards, newest first.
func (r *FlashcardRepository) RecentlyStudied(ctx context.Context, userID uuid.UUID, limit int) ([]Flashcard, error) {
	const query = `SELECT f.id, f.front, f.back, COALESCE(f.explanation, '')
		FROM flashcards f
		JOIN (
			SELECT flashcard_id, MAX(reviewed_at) AS last_review
			FROM study_reviews WHERE user_id = $1
			GROUP BY flashcard_id
		) s ON s.flashcard_id = f.id
		ORDER BY s.last_review DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	return collectCards(rows)
}

func collectCards(rows pgx.Rows) ([]Flashcard, error) {
	defer rows.Close()
	var out []Flashcard
	for rows.Next() {
		var c Flashcard
		if err := rows.Scan(&c.ID, &c.Front, &c.Back, &c.Explanation); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeckSource builds questions from one flashcard deck. Ref is the deck id.
type DeckSource struct {
	Cards FlashcardReader
	Rand  *rand.Rand // nil seeds a generator per call; a shared Rand is not safe for concurrent starts
}

// Generate implements Source.
func (s DeckSource) Generate(ctx context.Context, req Request) ([]GeneratedQuestion, error) {
	deckID, err := uuid.Parse(req.Ref)
	if err != nil {
		return nil, fmt.Errorf("invalid deck id %q", req.Ref)
	}
	cards, err := s.Cards.DeckCards(ctx, deckID, req.HostID)
	if err != nil {
		return nil, fmt.Errorf("load deck: %w", err)
	}
	return QuestionsFromCards(cards, cards, req.Count, s.Rand)
}

// HistorySource builds questions from the host's recent study reviews.
type HistorySource struct {
	Cards FlashcardReader
	Rand  *rand.Rand
	// PoolFactor widens the history window so there are enough distractors.
	PoolFactor int
}

// Generate implements Source.
func (s HistorySource) Generate(ctx context.Context, req Request) ([]GeneratedQuestion, error) {
	factor := s.PoolFactor
	if factor < 1 {
		factor = 3
	}
	cards, err := s.Cards.RecentlyStudied(ctx, req.HostID, req.Count*factor)
	if err != nil {
		return nil, fmt.Errorf("load study history: %w", err)
	}
	subjects := cards
	if len(subjects) > req.Count {
		subjects = subjects[:req.Count]
	}
	return QuestionsFromCards(subjects, cards, req.Count, s.Rand)
}

// QuestionsFromCards turns up to count subject cards into four-option questions. The correct
// option is the card's back; distractors are distinct backs drawn from pool.
func QuestionsFromCards(subjects, pool []Flashcard, count int, rng *rand.Rand) ([]GeneratedQuestion, error) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	backs := distinctBacks(pool)
	if len(backs) < OptionCount {
		return nil, fmt.Errorf("%w: %d distinct answers", ErrNotEnoughCards, len(backs))
	}

	order := rng.Perm(len(subjects))
	out := make([]GeneratedQuestion, 0, count)
	for _, idx := range order {
		if len(out) == count {
			break
		}
		card := subjects[idx]
		answer := strings.TrimSpace(card.Back)
		if strings.TrimSpace(card.Front) == "" || answer == "" {
			continue
		}

		options := []string{answer}
		for _, j := range rng.Perm(len(backs)) {
			if len(options) == OptionCount {
				break
			}
			if !strings.EqualFold(backs[j], answer) {
				options = append(options, backs[j])
			}
		}
		if len(options) < OptionCount {
			continue
		}
		rng.Shuffle(len(options), func(a, b int) { options[a], options[b] = options[b], options[a] })

		correct := 0
		for i, o := range options {
			if o == answer {
				correct = i
				break
			}
		}
		id := card.ID
		out = append(out, GeneratedQuestion{
			Question:      strings.TrimSpace(card.Front),
			Options:       options,
			CorrectAnswer: correct,
			Explanation:   card.Explanation,
			FlashcardID:   &id,
		})
	}
	return out, nil
}

func distinctBacks(cards []Flashcard) []string {
	seen := make(map[string]struct{}, len(cards))
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		b := strings.TrimSpace(c.Back)
		k := strings.ToLower(b)
		if b == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, b)
	}
	return out
}
