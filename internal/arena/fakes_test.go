package arena

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/practice-arena/backend/internal/broadcast"
	"github.com/practice-arena/backend/internal/models"
)

// memStore is an in-memory Store with the same uniqueness rules as the schema.
type memStore struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]models.ArenaSession
	participants map[uuid.UUID]models.ArenaParticipant
	questions    map[uuid.UUID]models.ArenaQuestion
	answers      map[[2]uuid.UUID]models.ArenaAnswer
	failAnswers  error
}

func newMemStore() *memStore {
	return &memStore{
		sessions:     make(map[uuid.UUID]models.ArenaSession),
		participants: make(map[uuid.UUID]models.ArenaParticipant),
		questions:    make(map[uuid.UUID]models.ArenaQuestion),
		answers:      make(map[[2]uuid.UUID]models.ArenaAnswer),
	}
}

func (m *memStore) CreateSession(_ context.Context, s *models.ArenaSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.sessions {
		if other.InviteCode == s.InviteCode && !other.Status.Terminal() {
			return fmt.Errorf("%w: invite code", ErrConflict)
		}
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *memStore) GetSession(_ context.Context, id uuid.UUID) (*models.ArenaSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNoRecord
	}
	return &s, nil
}

func (m *memStore) GetSessionByInviteCode(_ context.Context, code string) (*models.ArenaSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.InviteCode == code && !s.Status.Terminal() {
			return &s, nil
		}
	}
	return nil, ErrNoRecord
}

func (m *memStore) UpdateSessionState(_ context.Context, s *models.ArenaSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return ErrNoRecord
	}
	cur.Status, cur.CurrentQuestion, cur.StartedAt, cur.EndedAt = s.Status, s.CurrentQuestion, s.StartedAt, s.EndedAt
	m.sessions[s.ID] = cur
	return nil
}

func (m *memStore) AddParticipant(_ context.Context, p *models.ArenaParticipant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.participants {
		if other.ArenaID == p.ArenaID && other.UserID == p.UserID {
			return fmt.Errorf("%w: participant", ErrConflict)
		}
	}
	m.participants[p.ID] = *p
	return nil
}

func (m *memStore) RemoveParticipant(_ context.Context, arenaID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.participants {
		if p.ArenaID == arenaID && p.UserID == userID {
			delete(m.participants, id)
		}
	}
	return nil
}

func (m *memStore) ListParticipants(_ context.Context, arenaID uuid.UUID) ([]models.ArenaParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ArenaParticipant
	for _, p := range m.participants {
		if p.ArenaID == arenaID {
			out = append(out, p)
		}
	}
	sortByJoin(out)
	return out, nil
}

func sortByJoin(ps []models.ArenaParticipant) {
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && ps[j].JoinedAt.Before(ps[j-1].JoinedAt); j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}

func (m *memStore) UpdateParticipants(_ context.Context, ps []models.ArenaParticipant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		m.participants[p.ID] = p
	}
	return nil
}

func (m *memStore) InsertQuestions(_ context.Context, qs []models.ArenaQuestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range qs {
		m.questions[q.ID] = q
	}
	return nil
}

func (m *memStore) ListQuestions(_ context.Context, arenaID uuid.UUID) ([]models.ArenaQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ArenaQuestion, 0)
	for _, q := range m.questions {
		if q.ArenaID == arenaID {
			out = append(out, q)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].QuestionNumber < out[j-1].QuestionNumber; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (m *memStore) SetQuestionWindow(_ context.Context, questionID uuid.UUID, startedAt, endedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.questions[questionID]
	q.StartedAt, q.EndedAt = startedAt, endedAt
	m.questions[questionID] = q
	return nil
}

func (m *memStore) RecordAnswer(_ context.Context, a *models.ArenaAnswer, p *models.ArenaParticipant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAnswers != nil {
		return false, m.failAnswers
	}
	key := [2]uuid.UUID{a.QuestionID, a.ParticipantID}
	if _, ok := m.answers[key]; ok {
		return false, nil
	}
	m.answers[key] = *a
	m.participants[p.ID] = *p
	return true, nil
}

func (m *memStore) answerTotals() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := 0
	for _, a := range m.answers {
		sum += a.TotalPoints
	}
	return sum
}

func (m *memStore) session(id uuid.UUID) models.ArenaSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// recordingPublisher keeps every event and streams them to waiters.
type recordingPublisher struct {
	mu     sync.Mutex
	events []broadcast.Event
	ch     chan broadcast.Event
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{ch: make(chan broadcast.Event, 1024)}
}

func (r *recordingPublisher) Publish(_ uuid.UUID, ev broadcast.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- ev
}

func (r *recordingPublisher) count(t broadcast.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type() == t {
			n++
		}
	}
	return n
}

// waitFor returns the next event of type want, skipping others.
func (r *recordingPublisher) waitFor(t *testing.T, want broadcast.EventType) broadcast.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Type() == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
			return nil
		}
	}
}

// directory returns a profile for any user.
type directory struct{}

func (directory) Profile(_ context.Context, id uuid.UUID) (*models.UserProfile, error) {
	return &models.UserProfile{ID: id, FullName: "user-" + id.String()[:8]}, nil
}

type recordedGames struct {
	mu      sync.Mutex
	results []models.GameResult
}

func (r *recordedGames) RecordGame(ctx context.Context, res models.GameResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}
