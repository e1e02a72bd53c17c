package arena

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/practice-arena/backend/internal/broadcast"
	"github.com/practice-arena/backend/internal/content"
	"github.com/practice-arena/backend/internal/models"
)

type harness struct {
	svc   *Service
	store *memStore
	pub   *recordingPublisher
	games *recordedGames
	pipe  *content.Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &harness{
		store: newMemStore(),
		pub:   newRecordingPublisher(),
		games: &recordedGames{},
		pipe:  content.NewPipeline(logger),
	}
	cfg := DefaultConfig()
	cfg.Countdown = 0
	cfg.RoundPause = 0
	h.svc = NewService(h.store, h.pipe, h.pub, directory{}, h.games, cfg, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.svc.Shutdown(ctx)
	})
	return h
}

func customQuestions(n int) []content.GeneratedQuestion {
	out := make([]content.GeneratedQuestion, n)
	for i := range out {
		out[i] = content.GeneratedQuestion{
			Question:      fmt.Sprintf("question %d", i+1),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: i % 4,
			Explanation:   "because",
		}
	}
	return out
}

func (h *harness) createCustom(t *testing.T, host uuid.UUID, questions, maxPlayers int, spectator bool) *models.ArenaSession {
	t.Helper()
	s, err := h.svc.Create(context.Background(), CreateParams{
		HostID:          host,
		Title:           "Biology",
		ContentSource:   models.SourceCustom,
		QuestionCount:   questions,
		TimePerQuestion: 10,
		MaxPlayers:      maxPlayers,
		HostSpectator:   spectator,
		CustomQuestions: customQuestions(questions),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func (h *harness) join(t *testing.T, arenaID uuid.UUID) uuid.UUID {
	t.Helper()
	user := uuid.New()
	if _, err := h.svc.Join(context.Background(), arenaID, user); err != nil {
		t.Fatalf("join: %v", err)
	}
	return user
}

func (h *harness) answer(t *testing.T, arenaID, questionID, user uuid.UUID, selected, ms int) *models.ArenaAnswer {
	t.Helper()
	a, err := h.svc.SubmitAnswer(context.Background(), SubmitParams{
		ArenaID: arenaID, QuestionID: questionID, UserID: user, SelectedAnswer: selected, ResponseTimeMs: ms,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return a
}

func TestFullGameRanksFastestCorrectPlayerFirst(t *testing.T) {
	h := newHarness(t)
	host := uuid.New()
	session := h.createCustom(t, host, 5, 3, true)
	if session.Status != models.ArenaLobby || len(session.InviteCode) != 6 {
		t.Fatalf("unexpected new session %+v", session)
	}

	a := h.join(t, session.ID)
	b := h.join(t, session.ID)
	c := h.join(t, session.ID)

	if _, err := h.svc.Start(context.Background(), session.ID, host); err != nil {
		t.Fatalf("start: %v", err)
	}

	for n := 1; n <= 5; n++ {
		qs := h.pub.waitFor(t, broadcast.TypeQuestionStart).(broadcast.QuestionStart)
		if qs.QuestionNumber != n {
			t.Fatalf("expected question %d, got %d", n, qs.QuestionNumber)
		}
		correct := (n - 1) % 4
		wrong := (correct + 1) % 4
		h.answer(t, session.ID, qs.QuestionID, a, correct, 1000)
		h.answer(t, session.ID, qs.QuestionID, b, correct, 3000)
		h.answer(t, session.ID, qs.QuestionID, c, wrong, 2000)

		end := h.pub.waitFor(t, broadcast.TypeQuestionEnd).(broadcast.QuestionEnd)
		if end.CorrectAnswer != correct || end.Stats.TotalAnswered != 3 || end.Stats.CorrectCount != 2 {
			t.Fatalf("unexpected question_end %+v", end)
		}
		lb := h.pub.waitFor(t, broadcast.TypeLeaderboardUpdate).(broadcast.LeaderboardUpdate)
		if len(lb.Rankings) != 3 || lb.Rankings[2].Score != 0 || lb.Rankings[2].Streak != 0 {
			t.Fatalf("unexpected leaderboard %+v", lb)
		}
	}

	end := h.pub.waitFor(t, broadcast.TypeGameEnd).(broadcast.GameEnd)
	if err := h.svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	snap, err := h.svc.Snapshot(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Session.Status != models.ArenaCompleted || snap.Session.CurrentQuestion != 5 {
		t.Fatalf("expected COMPLETED at question 5, got %s at %d", snap.Session.Status, snap.Session.CurrentQuestion)
	}

	byUser := make(map[uuid.UUID]models.ArenaParticipant)
	sum := 0
	for _, p := range snap.Participants {
		byUser[p.UserID] = p
		sum += p.TotalScore
		if p.BestStreak < p.CurrentStreak {
			t.Errorf("best streak %d below current %d", p.BestStreak, p.CurrentStreak)
		}
	}
	if pa := byUser[a]; pa.FinalRank == nil || *pa.FinalRank != 1 {
		t.Fatalf("expected A to finish first, got %+v", pa.FinalRank)
	}
	if pa := byUser[a]; pa.TotalScore != 8250 || pa.BestStreak != 5 || pa.CorrectAnswers != 5 {
		t.Errorf("unexpected A totals %+v", pa)
	}
	if pb := byUser[b]; pb.TotalScore != 7750 || *pb.FinalRank != 2 {
		t.Errorf("unexpected B totals %+v", pb)
	}
	if pc := byUser[c]; pc.TotalScore != 0 || *pc.FinalRank != 3 || pc.CurrentStreak != 0 {
		t.Errorf("unexpected C totals %+v", pc)
	}
	if total := h.store.answerTotals(); total != sum {
		t.Errorf("expected participant totals %d to equal answer totals %d", sum, total)
	}

	if len(end.FinalRankings) != 3 || end.FinalRankings[0].XPEarned != 193 {
		t.Errorf("unexpected final rankings %+v", end.FinalRankings)
	}
	if end.Stats.TotalQuestions != 5 || end.Stats.AvgAccuracy != 66.7 {
		t.Errorf("unexpected game stats %+v", end.Stats)
	}

	h.games.mu.Lock()
	defer h.games.mu.Unlock()
	if len(h.games.results) != 1 || len(h.games.results[0].Players) != 3 {
		t.Fatalf("expected one recorded game with 3 players, got %+v", h.games.results)
	}
	for _, p := range h.games.results[0].Players {
		if p.Won != (p.UserID == a) {
			t.Errorf("unexpected Won=%v for %s", p.Won, p.UserID)
		}
	}
}

func TestSubmitAnswerFirstWriteWins(t *testing.T) {
	h := newHarness(t)
	host := uuid.New()
	session := h.createCustom(t, host, 3, 5, false)
	other := h.join(t, session.ID)
	_ = other

	if _, err := h.svc.Start(context.Background(), session.ID, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	qs := h.pub.waitFor(t, broadcast.TypeQuestionStart).(broadcast.QuestionStart)

	first := h.answer(t, session.ID, qs.QuestionID, host, 0, 500)
	_, err := h.svc.SubmitAnswer(context.Background(), SubmitParams{
		ArenaID: session.ID, QuestionID: qs.QuestionID, UserID: host, SelectedAnswer: 3, ResponseTimeMs: 100,
	})
	var answered *AlreadyAnsweredError
	if !errors.As(err, &answered) {
		t.Fatalf("expected AlreadyAnsweredError, got %v", err)
	}

	h.store.mu.Lock()
	stored := h.store.answers[[2]uuid.UUID{qs.QuestionID, first.ParticipantID}]
	h.store.mu.Unlock()
	if stored.SelectedAnswer != 0 || stored.ResponseTimeMs != 500 || stored.TotalPoints != first.TotalPoints {
		t.Errorf("expected stored answer to match the first submission, got %+v", stored)
	}
}

func TestConcurrentSubmissionsAcceptExactlyOne(t *testing.T) {
	h := newHarness(t)
	host := uuid.New()
	session := h.createCustom(t, host, 3, 5, false)
	h.join(t, session.ID)
	if _, err := h.svc.Start(context.Background(), session.ID, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	qs := h.pub.waitFor(t, broadcast.TypeQuestionStart).(broadcast.QuestionStart)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(sel int) {
			defer wg.Done()
			_, err := h.svc.SubmitAnswer(context.Background(), SubmitParams{
				ArenaID: session.ID, QuestionID: qs.QuestionID, UserID: host, SelectedAnswer: sel % 4, ResponseTimeMs: 100,
			})
			mu.Lock()
			defer mu.Unlock()
			var answered *AlreadyAnsweredError
			switch {
			case err == nil:
				accepted++
			case errors.As(err, &answered):
				rejected++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()
	if accepted != 1 || rejected != 19 {
		t.Fatalf("expected 1 accepted and 19 rejected, got %d and %d", accepted, rejected)
	}
}

func TestJoinRejections(t *testing.T) {
	h := newHarness(t)
	host := uuid.New()
	session := h.createCustom(t, host, 3, 2, false)
	player := h.join(t, session.ID)

	_, err := h.svc.Join(context.Background(), session.ID, player)
	var dup *DuplicateJoinError
	if !errors.As(err, &dup) {
		t.Errorf("expected DuplicateJoinError, got %v", err)
	}

	_, err = h.svc.Join(context.Background(), session.ID, uuid.New())
	var full *CapacityError
	if !errors.As(err, &full) || full.MaxPlayers != 2 {
		t.Errorf("expected CapacityError, got %v", err)
	}

	_, err = h.svc.JoinByCode(context.Background(), "ZZZZZZ", uuid.New())
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError for unknown code, got %v", err)
	}

	if _, err := h.svc.Start(context.Background(), session.ID, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = h.svc.JoinByCode(context.Background(), session.InviteCode, uuid.New())
	if !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("expected ErrInvalidPhase after start, got %v", err)
	}
}

func TestJoinByCodeIsCaseInsensitive(t *testing.T) {
	h := newHarness(t)
	session := h.createCustom(t, uuid.New(), 3, 5, false)

	p, err := h.svc.JoinByCode(context.Background(), " "+lower(session.InviteCode)+" ", uuid.New())
	if err != nil {
		t.Fatalf("join by code: %v", err)
	}
	if p.ArenaID != session.ID {
		t.Errorf("expected arena %s, got %s", session.ID, p.ArenaID)
	}
	joined := h.pub.waitFor(t, broadcast.TypePlayerJoined).(broadcast.PlayerJoined)
	if joined.PlayerCount != 2 {
		t.Errorf("expected player count 2, got %d", joined.PlayerCount)
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		p    CreateParams
	}{
		{"too few custom questions", CreateParams{ContentSource: models.SourceCustom, QuestionCount: 2, CustomQuestions: customQuestions(2)}},
		{"too many questions", CreateParams{ContentSource: models.SourceStudyHistory, QuestionCount: 51}},
		{"time too short", CreateParams{ContentSource: models.SourceStudyHistory, QuestionCount: 5, TimePerQuestion: 5}},
		{"time too long", CreateParams{ContentSource: models.SourceStudyHistory, QuestionCount: 5, TimePerQuestion: 61}},
		{"unknown source", CreateParams{ContentSource: "PODCAST", QuestionCount: 5}},
		{"deck without ref", CreateParams{ContentSource: models.SourceDeck, QuestionCount: 5}},
		{"invalid custom question", CreateParams{ContentSource: models.SourceCustom, QuestionCount: 3,
			CustomQuestions: append(customQuestions(2), content.GeneratedQuestion{Question: "x", Options: []string{"a"}})}},
		{"too many players", CreateParams{ContentSource: models.SourceStudyHistory, QuestionCount: 5, MaxPlayers: 51}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.p.HostID = uuid.New()
			_, err := h.svc.Create(context.Background(), tt.p)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestFailedStartStaysInLobby(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.pipe.Register(models.SourceStudyHistory, content.SourceFunc(func(_ context.Context, req content.Request) ([]content.GeneratedQuestion, error) {
		calls++
		if calls == 1 {
			return customQuestions(req.Count - 1), nil
		}
		return customQuestions(req.Count), nil
	}))

	host := uuid.New()
	session, err := h.svc.Create(context.Background(), CreateParams{
		HostID: host, ContentSource: models.SourceStudyHistory, QuestionCount: 4,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = h.svc.Start(context.Background(), session.ID, host)
	var failure *ContentGenerationFailure
	if !errors.As(err, &failure) || !errors.Is(err, content.ErrInsufficientQuestions) {
		t.Fatalf("expected ContentGenerationFailure, got %v", err)
	}
	if got := h.store.session(session.ID).Status; got != models.ArenaLobby {
		t.Fatalf("expected LOBBY after failed start, got %s", got)
	}
	if h.pub.count(broadcast.TypeGameStarting) != 0 {
		t.Error("expected no game_starting after failed start")
	}

	started, err := h.svc.Start(context.Background(), session.ID, host)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if started.Status != models.ArenaStarting || started.StartedAt == nil {
		t.Errorf("expected STARTING with a start time, got %+v", started)
	}
}

func TestStartRequiresHostAndLobby(t *testing.T) {
	h := newHarness(t)
	host := uuid.New()
	session := h.createCustom(t, host, 3, 5, false)

	if _, err := h.svc.Start(context.Background(), session.ID, uuid.New()); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if _, err := h.svc.Start(context.Background(), session.ID, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.svc.Start(context.Background(), session.ID, host); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase on second start, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	host := uuid.New()
	session := h.createCustom(t, host, 3, 5, false)

	if err := h.svc.Cancel(context.Background(), session.ID, uuid.New()); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if err := h.svc.Cancel(context.Background(), session.ID, host); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	ev := h.pub.waitFor(t, broadcast.TypeGameCancelled).(broadcast.GameCancelled)
	if ev.ArenaID != session.ID {
		t.Errorf("expected cancelled arena %s, got %s", session.ID, ev.ArenaID)
	}
	if got := h.store.session(session.ID).Status; got != models.ArenaCancelled {
		t.Fatalf("expected CANCELLED, got %s", got)
	}
	if err := h.svc.Cancel(context.Background(), session.ID, host); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase on second cancel, got %v", err)
	}
	if _, err := h.svc.Join(context.Background(), session.ID, uuid.New()); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase joining a cancelled arena, got %v", err)
	}
}

func TestCancelDuringCountdownHaltsQuestions(t *testing.T) {
	h := newHarness(t)
	h.svc.cfg.Countdown = time.Hour
	host := uuid.New()
	session := h.createCustom(t, host, 3, 5, false)

	if _, err := h.svc.Start(context.Background(), session.ID, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.svc.Cancel(context.Background(), session.ID, host); err != nil {
		t.Fatalf("cancel while STARTING: %v", err)
	}
	if err := h.svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if n := h.pub.count(broadcast.TypeQuestionStart); n != 0 {
		t.Errorf("expected no question_start after cancel, got %d", n)
	}
}

func TestCompletionWritesSurviveShutdown(t *testing.T) {
	h := newHarness(t)
	host := uuid.New()
	session := h.createCustom(t, host, 3, 5, false)
	h.join(t, session.ID)

	room, ok := h.svc.rooms.get(session.ID)
	if !ok {
		t.Fatal("expected a live room")
	}
	room.mu.Lock()
	room.session.Status = models.ArenaBetweenRounds
	room.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.svc.complete(ctx, session.ID, room)

	if got := h.store.session(session.ID).Status; got != models.ArenaCompleted {
		t.Fatalf("expected COMPLETED, got %s", got)
	}
	participants, _ := h.store.ListParticipants(context.Background(), session.ID)
	for _, p := range participants {
		if p.FinalRank == nil || p.XPEarned == nil {
			t.Fatalf("expected final rank and XP for %s", p.DisplayName)
		}
	}
	h.games.mu.Lock()
	defer h.games.mu.Unlock()
	if len(h.games.results) != 1 || len(h.games.results[0].Players) != 2 {
		t.Fatalf("expected the game to reach the leaderboard, got %+v", h.games.results)
	}
}

func TestDisconnectedPlayerDoesNotStallQuestion(t *testing.T) {
	h := newHarness(t)
	host := uuid.New()
	session := h.createCustom(t, host, 3, 5, false)
	dropped := h.join(t, session.ID)

	if _, err := h.svc.Start(context.Background(), session.ID, host); err != nil {
		t.Fatalf("start: %v", err)
	}
	qs := h.pub.waitFor(t, broadcast.TypeQuestionStart).(broadcast.QuestionStart)
	h.svc.SetConnected(session.ID, dropped, false)
	h.answer(t, session.ID, qs.QuestionID, host, 0, 800)

	end := h.pub.waitFor(t, broadcast.TypeQuestionEnd).(broadcast.QuestionEnd)
	if end.QuestionNumber != 1 || end.Stats.TotalAnswered != 1 {
		t.Fatalf("expected question 1 to close with 1 answer, got %+v", end)
	}
}

func TestLeave(t *testing.T) {
	h := newHarness(t)
	host := uuid.New()
	session := h.createCustom(t, host, 3, 5, false)
	player := h.join(t, session.ID)

	if err := h.svc.Leave(context.Background(), session.ID, host); err == nil {
		t.Error("expected the host to be refused")
	}
	if err := h.svc.Leave(context.Background(), session.ID, player); err != nil {
		t.Fatalf("leave: %v", err)
	}
	left := h.pub.waitFor(t, broadcast.TypePlayerLeft).(broadcast.PlayerLeft)
	if left.PlayerCount != 1 {
		t.Errorf("expected player count 1, got %d", left.PlayerCount)
	}
	var nf *NotFoundError
	if err := h.svc.Leave(context.Background(), session.ID, player); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError on second leave, got %v", err)
	}
}

func TestLobbySurvivesRestart(t *testing.T) {
	h := newHarness(t)
	host := uuid.New()
	session := h.createCustom(t, host, 3, 5, false)

	restarted := NewService(h.store, h.pipe, h.pub, directory{}, h.games, h.svc.cfg, zaptest.NewLogger(t))
	if _, err := restarted.Join(context.Background(), session.ID, uuid.New()); err != nil {
		t.Fatalf("join after restart: %v", err)
	}
	if _, err := restarted.Start(context.Background(), session.ID, host); err != nil {
		t.Fatalf("start after restart: %v", err)
	}
	qs := h.pub.waitFor(t, broadcast.TypeQuestionStart).(broadcast.QuestionStart)
	if qs.Question != "question 1" {
		t.Errorf("expected reloaded custom questions, got %q", qs.Question)
	}
	if err := restarted.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	other := NewService(h.store, h.pipe, h.pub, directory{}, h.games, h.svc.cfg, zaptest.NewLogger(t))
	_, err := other.SubmitAnswer(context.Background(), SubmitParams{ArenaID: session.ID, QuestionID: qs.QuestionID, UserID: host})
	if !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("expected in-flight arena to be rejected by another process, got %v", err)
	}
}

func TestEffectiveResponseTime(t *testing.T) {
	s := &Service{cfg: Config{ResponseGrace: 2 * time.Second}}
	start := time.Unix(100, 0)
	q := &models.ArenaQuestion{StartedAt: &start}

	tests := []struct {
		reported int
		elapsed  time.Duration
		want     int
	}{
		{3000, 1500 * time.Millisecond, 3000},
		{1000, 8 * time.Second, 6000},
		{-50, 0, 0},
		{4000, 6 * time.Second, 4000},
	}
	for _, tt := range tests {
		if got := s.effectiveResponseTime(tt.reported, q, start.Add(tt.elapsed)); got != tt.want {
			t.Errorf("reported=%d elapsed=%s: expected %d, got %d", tt.reported, tt.elapsed, tt.want, got)
		}
	}
}
