package arena

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/practice-arena/backend/internal/models"
)

// Room is the in-memory authority for one arena. Every state transition and answer
// acceptance happens with mu held; the game loop goroutine is the only caller of
// the question open/close/complete steps.
type Room struct {
	mu sync.Mutex

	session      models.ArenaSession
	participants []*models.ArenaParticipant
	byUser       map[uuid.UUID]*models.ArenaParticipant
	questions    []models.ArenaQuestion

	// answers[questionID][participantID]
	answers   map[uuid.UUID]map[uuid.UUID]models.ArenaAnswer
	active    int // index into questions of the open question, -1 when none is open
	prevRanks map[uuid.UUID]int
	fetching  bool

	cancel      context.CancelFunc
	done        chan struct{}
	allAnswered chan struct{}
}

func newRoom(session models.ArenaSession, participants []models.ArenaParticipant) *Room {
	r := &Room{
		session:     session,
		byUser:      make(map[uuid.UUID]*models.ArenaParticipant, len(participants)),
		answers:     make(map[uuid.UUID]map[uuid.UUID]models.ArenaAnswer),
		active:      -1,
		prevRanks:   make(map[uuid.UUID]int),
		allAnswered: make(chan struct{}, 1),
	}
	for i := range participants {
		r.addParticipant(participants[i])
	}
	return r
}

func (r *Room) addParticipant(p models.ArenaParticipant) *models.ArenaParticipant {
	pp := &p
	r.participants = append(r.participants, pp)
	r.byUser[p.UserID] = pp
	return pp
}

func (r *Room) removeParticipant(userID uuid.UUID) *models.ArenaParticipant {
	p, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	delete(r.byUser, userID)
	for i, q := range r.participants {
		if q == p {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			break
		}
	}
	return p
}

// activeQuestion returns the open question, or nil.
func (r *Room) activeQuestion() *models.ArenaQuestion {
	if r.active < 0 || r.active >= len(r.questions) {
		return nil
	}
	return &r.questions[r.active]
}

// connectedCount returns how many participants the transport currently sees.
func (r *Room) connectedCount() int {
	n := 0
	for _, p := range r.participants {
		if p.Connected {
			n++
		}
	}
	return n
}

// everyoneAnswered reports whether every connected participant answered the open question.
// With nobody connected the round waits for its timer.
func (r *Room) everyoneAnswered() bool {
	q := r.activeQuestion()
	if q == nil {
		return false
	}
	answered := r.answers[q.ID]
	connected := 0
	for _, p := range r.participants {
		if !p.Connected {
			continue
		}
		connected++
		if _, ok := answered[p.ID]; !ok {
			return false
		}
	}
	return connected > 0
}

// signalIfComplete wakes the game loop when the open question can close early.
func (r *Room) signalIfComplete() {
	if !r.everyoneAnswered() {
		return
	}
	select {
	case r.allAnswered <- struct{}{}:
	default:
	}
}

func (r *Room) drainSignal() {
	select {
	case <-r.allAnswered:
	default:
	}
}

func (r *Room) snapshot() Snapshot {
	s := Snapshot{Session: r.session, Participants: make([]models.ArenaParticipant, len(r.participants))}
	for i, p := range r.participants {
		s.Participants[i] = *p
	}
	if q := r.activeQuestion(); q != nil {
		cp := *q
		s.ActiveQuestion = &cp
		if q.StartedAt != nil {
			deadline := q.StartedAt.Add(time.Duration(r.session.TimePerQuestion) * time.Second)
			s.Deadline = &deadline
		}
	}
	return s
}

// Snapshot is the state a reconnecting client needs to resume.
type Snapshot struct {
	Session        models.ArenaSession       `json:"session"`
	Participants   []models.ArenaParticipant `json:"participants"`
	ActiveQuestion *models.ArenaQuestion     `json:"active_question,omitempty"`
	Deadline       *time.Time                `json:"deadline,omitempty"`
}
