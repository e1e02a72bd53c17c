// Package arena runs live competitive quiz sessions: lobby, timed questions, scoring and results.
package arena

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/practice-arena/backend/internal/broadcast"
	"github.com/practice-arena/backend/internal/content"
	"github.com/practice-arena/backend/internal/models"
	"github.com/practice-arena/backend/internal/scoring"
)

// Config bounds arena parameters and sets the pacing of the game loop.
type Config struct {
	Countdown          time.Duration
	RoundPause         time.Duration
	ResponseGrace      time.Duration
	MinQuestions       int
	MinCustomQuestions int
	MaxQuestions       int
	MinTimePerQuestion int
	MaxTimePerQuestion int
	DefaultMaxPlayers  int
	MaxPlayers         int
	InviteCodeAttempts int
}

// DefaultConfig returns the production pacing and limits.
func DefaultConfig() Config {
	return Config{
		Countdown:          3 * time.Second,
		RoundPause:         5 * time.Second,
		ResponseGrace:      2 * time.Second,
		MinQuestions:       1,
		MinCustomQuestions: 3,
		MaxQuestions:       50,
		MinTimePerQuestion: 10,
		MaxTimePerQuestion: 60,
		DefaultMaxPlayers:  10,
		MaxPlayers:         50,
		InviteCodeAttempts: 5,
	}
}

// CreateParams describes a new arena.
type CreateParams struct {
	HostID          uuid.UUID
	Title           string
	ContentSource   models.ContentSource
	ContentRef      string
	QuestionCount   int
	TimePerQuestion int
	MaxPlayers      int
	HostSpectator   bool
	CustomQuestions []content.GeneratedQuestion
}

// SubmitParams is one answer submission.
type SubmitParams struct {
	ArenaID        uuid.UUID
	QuestionID     uuid.UUID
	UserID         uuid.UUID
	SelectedAnswer int
	ResponseTimeMs int
}

// Service is the arena state machine.
type Service struct {
	store     Store
	questions QuestionSource
	publisher broadcast.Publisher
	users     UserDirectory
	stats     StatsRecorder
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	rooms *registry
	wg    sync.WaitGroup
}

// NewService creates the arena service.
func NewService(store Store, questions QuestionSource, publisher broadcast.Publisher, users UserDirectory, stats StatsRecorder, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		questions: questions,
		publisher: publisher,
		users:     users,
		stats:     stats,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		rooms:     newRegistry(),
	}
}

// Create opens a new arena in LOBBY. Unless the host is a spectator they join as the first participant.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.ArenaSession, error) {
	if err := s.normalize(&p); err != nil {
		return nil, err
	}

	var host *models.UserProfile
	if !p.HostSpectator {
		var err error
		if host, err = s.profile(ctx, p.HostID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	session := models.ArenaSession{
		ID:              uuid.New(),
		HostID:          p.HostID,
		Title:           p.Title,
		ContentSource:   p.ContentSource,
		ContentRef:      p.ContentRef,
		QuestionCount:   p.QuestionCount,
		TimePerQuestion: p.TimePerQuestion,
		MaxPlayers:      p.MaxPlayers,
		HostSpectator:   p.HostSpectator,
		Status:          models.ArenaLobby,
		CreatedAt:       now,
	}
	if err := s.insertWithInviteCode(ctx, &session); err != nil {
		return nil, err
	}

	room := newRoom(session, nil)
	if p.ContentSource == models.SourceCustom {
		room.questions = buildQuestions(session.ID, p.CustomQuestions[:p.QuestionCount])
		if err := s.store.InsertQuestions(ctx, room.questions); err != nil {
			return nil, fmt.Errorf("insert custom questions: %w", err)
		}
	}
	if host != nil {
		participant := newParticipant(session.ID, host, now)
		if err := s.store.AddParticipant(ctx, &participant); err != nil {
			return nil, fmt.Errorf("add host participant: %w", err)
		}
		room.addParticipant(participant)
	}
	s.rooms.put(room)

	s.logger.Info("arena created",
		zap.String("arena_id", session.ID.String()),
		zap.String("host_id", p.HostID.String()),
		zap.String("source", string(p.ContentSource)),
		zap.Int("questions", p.QuestionCount))
	return &session, nil
}

func (s *Service) normalize(p *CreateParams) error {
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		p.Title = "Practice Arena"
	}
	if len(p.Title) > 120 {
		return invalid("title must be at most 120 characters")
	}
	if !p.ContentSource.Valid() {
		return invalid("unknown content source %q", p.ContentSource)
	}
	p.ContentRef = strings.TrimSpace(p.ContentRef)
	switch p.ContentSource {
	case models.SourceDeck, models.SourceUpload, models.SourceAIGenerated:
		if p.ContentRef == "" {
			return invalid("content_ref is required for %s", p.ContentSource)
		}
	}

	minQuestions := s.cfg.MinQuestions
	if p.ContentSource == models.SourceCustom {
		minQuestions = s.cfg.MinCustomQuestions
		if p.QuestionCount == 0 {
			p.QuestionCount = len(p.CustomQuestions)
		}
	}
	if p.QuestionCount < minQuestions || p.QuestionCount > s.cfg.MaxQuestions {
		return invalid("question count must be between %d and %d", minQuestions, s.cfg.MaxQuestions)
	}
	if p.ContentSource == models.SourceCustom {
		if len(p.CustomQuestions) < p.QuestionCount {
			return invalid("%d custom questions supplied, %d required", len(p.CustomQuestions), p.QuestionCount)
		}
		for i, q := range p.CustomQuestions[:p.QuestionCount] {
			if err := q.Validate(); err != nil {
				return invalid("custom question %d: %v", i+1, err)
			}
		}
	}

	if p.TimePerQuestion == 0 {
		p.TimePerQuestion = scoring.DefaultTimeLimitSeconds
	}
	if p.TimePerQuestion < s.cfg.MinTimePerQuestion || p.TimePerQuestion > s.cfg.MaxTimePerQuestion {
		return invalid("time per question must be between %d and %d seconds", s.cfg.MinTimePerQuestion, s.cfg.MaxTimePerQuestion)
	}
	if p.MaxPlayers == 0 {
		p.MaxPlayers = s.cfg.DefaultMaxPlayers
	}
	if p.MaxPlayers < 1 || p.MaxPlayers > s.cfg.MaxPlayers {
		return invalid("max players must be between 1 and %d", s.cfg.MaxPlayers)
	}
	return nil
}

func (s *Service) insertWithInviteCode(ctx context.Context, session *models.ArenaSession) error {
	attempts := s.cfg.InviteCodeAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		code, err := scoring.GenerateInviteCode()
		if err != nil {
			return fmt.Errorf("generate invite code: %w", err)
		}
		session.InviteCode = code
		err = s.store.CreateSession(ctx, session)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return fmt.Errorf("create session: %w", err)
		}
		s.logger.Debug("invite code collision, retrying", zap.String("code", code))
	}
	return fmt.Errorf("no free invite code after %d attempts", attempts)
}

// Join adds userID to a LOBBY arena and announces the new player count.
func (s *Service) Join(ctx context.Context, arenaID, userID uuid.UUID) (*models.ArenaParticipant, error) {
	room, err := s.room(ctx, arenaID, "join")
	if err != nil {
		return nil, err
	}
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.session.Status != models.ArenaLobby {
		return nil, invalidPhase("join", room.session.Status)
	}
	if _, ok := room.byUser[userID]; ok {
		return nil, &DuplicateJoinError{ArenaID: arenaID, UserID: userID}
	}
	if len(room.participants) >= room.session.MaxPlayers {
		return nil, &CapacityError{ArenaID: arenaID, MaxPlayers: room.session.MaxPlayers}
	}

	participant := newParticipant(arenaID, profile, s.now())
	if err := s.store.AddParticipant(ctx, &participant); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, &DuplicateJoinError{ArenaID: arenaID, UserID: userID}
		}
		return nil, fmt.Errorf("add participant: %w", err)
	}
	p := room.addParticipant(participant)

	s.publisher.Publish(arenaID, broadcast.PlayerJoined{
		ParticipantID: p.ID,
		UserName:      p.DisplayName,
		AvatarURL:     p.AvatarURL,
		PlayerCount:   len(room.participants),
	})
	s.logger.Info("player joined", zap.String("arena_id", arenaID.String()), zap.String("user_id", userID.String()))
	out := *p
	return &out, nil
}

// JoinByCode resolves an invite code among live arenas and joins it.
func (s *Service) JoinByCode(ctx context.Context, inviteCode string, userID uuid.UUID) (*models.ArenaParticipant, error) {
	code := strings.ToUpper(strings.TrimSpace(inviteCode))
	if len(code) != scoring.InviteCodeLength {
		return nil, invalid("invite code must be %d characters", scoring.InviteCodeLength)
	}
	session, err := s.store.GetSessionByInviteCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, &NotFoundError{Kind: "invite code", Key: code}
		}
		return nil, fmt.Errorf("lookup invite code: %w", err)
	}
	return s.Join(ctx, session.ID, userID)
}

// Leave removes a non-host participant from a LOBBY arena.
func (s *Service) Leave(ctx context.Context, arenaID, userID uuid.UUID) error {
	room, err := s.room(ctx, arenaID, "leave")
	if err != nil {
		return err
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.session.Status != models.ArenaLobby {
		return invalidPhase("leave", room.session.Status)
	}
	if userID == room.session.HostID {
		return invalid("the host cancels the arena instead of leaving it")
	}
	if _, ok := room.byUser[userID]; !ok {
		return &NotFoundError{Kind: "participant", Key: userID.String()}
	}
	if err := s.store.RemoveParticipant(ctx, arenaID, userID); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	p := room.removeParticipant(userID)

	s.publisher.Publish(arenaID, broadcast.PlayerLeft{
		ParticipantID: p.ID,
		UserName:      p.DisplayName,
		PlayerCount:   len(room.participants),
	})
	return nil
}

// Start pulls the full question set and launches the game loop. A failure leaves the arena in LOBBY.
func (s *Service) Start(ctx context.Context, arenaID, hostID uuid.UUID) (*models.ArenaSession, error) {
	room, err := s.room(ctx, arenaID, "start")
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	if room.session.HostID != hostID {
		room.mu.Unlock()
		return nil, notHost("start")
	}
	if room.session.Status != models.ArenaLobby || room.fetching {
		status := room.session.Status
		room.mu.Unlock()
		return nil, invalidPhase("start", status)
	}
	if len(room.participants) == 0 {
		room.mu.Unlock()
		return nil, invalid("arena has no players")
	}
	room.fetching = true
	session := room.session
	req := content.Request{HostID: session.HostID, Count: session.QuestionCount, Ref: session.ContentRef}
	if session.ContentSource == models.SourceCustom {
		req.Custom = toGenerated(room.questions)
	}
	room.mu.Unlock()

	generated, genErr := s.questions.GenerateQuestions(ctx, session.ContentSource, req)

	room.mu.Lock()
	defer room.mu.Unlock()
	room.fetching = false
	if genErr == nil && len(generated) < session.QuestionCount {
		genErr = fmt.Errorf("%w: got %d of %d", content.ErrInsufficientQuestions, len(generated), session.QuestionCount)
	}
	if genErr != nil {
		s.logger.Warn("arena start failed", zap.String("arena_id", arenaID.String()), zap.Error(genErr))
		return nil, &ContentGenerationFailure{Source: session.ContentSource, Err: genErr}
	}
	if room.session.Status != models.ArenaLobby {
		return nil, invalidPhase("start", room.session.Status)
	}

	if session.ContentSource != models.SourceCustom {
		qs := buildQuestions(arenaID, generated[:session.QuestionCount])
		if err := s.store.InsertQuestions(ctx, qs); err != nil {
			return nil, fmt.Errorf("insert questions: %w", err)
		}
		room.questions = qs
	}

	now := s.now()
	next := room.session
	next.Status = models.ArenaStarting
	next.StartedAt = &now
	if err := s.store.UpdateSessionState(ctx, &next); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	room.session = next
	room.prevRanks = rankMap(standings(room.participants))

	loopCtx, cancel := context.WithCancel(context.Background())
	room.cancel = cancel
	room.done = make(chan struct{})
	s.wg.Add(1)
	go s.run(loopCtx, arenaID, room)

	s.publisher.Publish(arenaID, broadcast.GameStarting{
		CountdownSeconds: int(s.cfg.Countdown.Round(time.Second) / time.Second),
		TotalQuestions:   len(room.questions),
	})
	s.logger.Info("arena starting",
		zap.String("arena_id", arenaID.String()),
		zap.Int("players", len(room.participants)),
		zap.Int("questions", len(room.questions)))
	out := room.session
	return &out, nil
}

// SubmitAnswer scores the first answer of a participant to the open question.
func (s *Service) SubmitAnswer(ctx context.Context, p SubmitParams) (*models.ArenaAnswer, error) {
	if p.SelectedAnswer < 0 || p.SelectedAnswer >= content.OptionCount {
		return nil, invalid("selected answer must be between 0 and %d", content.OptionCount-1)
	}
	room, ok := s.rooms.get(p.ArenaID)
	if !ok {
		return nil, s.notLive(ctx, p.ArenaID, "answer")
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.session.Status != models.ArenaInProgress {
		return nil, invalidPhase("answer", room.session.Status)
	}
	q := room.activeQuestion()
	if q == nil || q.ID != p.QuestionID {
		for _, other := range room.questions {
			if other.ID == p.QuestionID {
				return nil, &ValidationError{Msg: "question is not open", Err: ErrInvalidPhase}
			}
		}
		return nil, &NotFoundError{Kind: "question", Key: p.QuestionID.String()}
	}
	participant := room.byUser[p.UserID]
	if participant == nil {
		return nil, &NotFoundError{Kind: "participant", Key: p.UserID.String()}
	}
	if _, dup := room.answers[q.ID][participant.ID]; dup {
		return nil, &AlreadyAnsweredError{QuestionID: q.ID, ParticipantID: participant.ID}
	}

	now := s.now()
	responseMs := s.effectiveResponseTime(p.ResponseTimeMs, q, now)
	correct := p.SelectedAnswer == q.CorrectAnswer
	pts := scoring.CalculatePoints(correct, responseMs, participant.CurrentStreak, room.session.TimePerQuestion)
	answer := models.ArenaAnswer{
		ID:             uuid.New(),
		QuestionID:     q.ID,
		ParticipantID:  participant.ID,
		SelectedAnswer: p.SelectedAnswer,
		IsCorrect:      correct,
		ResponseTimeMs: responseMs,
		BasePoints:     pts.Base,
		TimeBonus:      pts.TimeBonus,
		StreakBonus:    pts.StreakBonus,
		TotalPoints:    pts.Total,
		AnsweredAt:     now,
	}
	updated := *participant
	applyAnswer(&updated, answer)

	inserted, err := s.store.RecordAnswer(ctx, &answer, &updated)
	if err != nil {
		return nil, fmt.Errorf("record answer: %w", err)
	}
	if !inserted {
		return nil, &AlreadyAnsweredError{QuestionID: q.ID, ParticipantID: participant.ID}
	}
	*participant = updated
	if room.answers[q.ID] == nil {
		room.answers[q.ID] = make(map[uuid.UUID]models.ArenaAnswer)
	}
	room.answers[q.ID][participant.ID] = answer

	s.publisher.Publish(p.ArenaID, broadcast.AnswerSubmitted{
		ParticipantID:     participant.ID,
		AnsweredCount:     len(room.answers[q.ID]),
		TotalParticipants: len(room.participants),
	})
	room.signalIfComplete()
	return &answer, nil
}

// effectiveResponseTime trusts the client's measurement unless the server saw the answer
// arrive later than that plus a delivery grace.
func (s *Service) effectiveResponseTime(reported int, q *models.ArenaQuestion, now time.Time) int {
	if reported < 0 {
		reported = 0
	}
	if q.StartedAt == nil {
		return reported
	}
	serverMs := int(now.Sub(*q.StartedAt)/time.Millisecond) - int(s.cfg.ResponseGrace/time.Millisecond)
	if serverMs > reported {
		return serverMs
	}
	return reported
}

// Cancel ends a LOBBY or STARTING arena without scoring.
func (s *Service) Cancel(ctx context.Context, arenaID, hostID uuid.UUID) error {
	room, err := s.room(ctx, arenaID, "cancel")
	if err != nil {
		return err
	}
	room.mu.Lock()
	if room.session.HostID != hostID {
		room.mu.Unlock()
		return notHost("cancel")
	}
	switch room.session.Status {
	case models.ArenaLobby, models.ArenaStarting:
	default:
		status := room.session.Status
		room.mu.Unlock()
		return invalidPhase("cancel", status)
	}

	now := s.now()
	next := room.session
	next.Status = models.ArenaCancelled
	next.EndedAt = &now
	if err := s.store.UpdateSessionState(ctx, &next); err != nil {
		room.mu.Unlock()
		return fmt.Errorf("update session: %w", err)
	}
	room.session = next
	if room.cancel != nil {
		room.cancel()
	}
	s.publisher.Publish(arenaID, broadcast.GameCancelled{ArenaID: arenaID})
	room.mu.Unlock()

	s.rooms.remove(arenaID)
	s.logger.Info("arena cancelled", zap.String("arena_id", arenaID.String()))
	return nil
}

// SetConnected records transport presence. Disconnected participants no longer hold up a question.
func (s *Service) SetConnected(arenaID, userID uuid.UUID, connected bool) {
	room, ok := s.rooms.get(arenaID)
	if !ok {
		return
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	p := room.byUser[userID]
	if p == nil || p.Connected == connected {
		return
	}
	p.Connected = connected

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.UpdateParticipants(ctx, []models.ArenaParticipant{*p}); err != nil {
		s.logger.Warn("persist presence failed", zap.String("arena_id", arenaID.String()), zap.Error(err))
	}
	if !connected {
		room.signalIfComplete()
	}
}

// Snapshot returns the current state of an arena, live or finished.
func (s *Service) Snapshot(ctx context.Context, arenaID uuid.UUID) (*Snapshot, error) {
	if room, ok := s.rooms.get(arenaID); ok {
		room.mu.Lock()
		snap := room.snapshot()
		room.mu.Unlock()
		return &snap, nil
	}
	session, err := s.store.GetSession(ctx, arenaID)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, &NotFoundError{Kind: "arena", Key: arenaID.String()}
		}
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, arenaID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Session: *session, Participants: participants}, nil
}

// Shutdown stops every game loop and waits for them to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	for _, room := range s.rooms.all() {
		room.mu.Lock()
		if room.cancel != nil {
			room.cancel()
		}
		room.mu.Unlock()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// inactiveError is returned by loadRoom for an arena that exists but is not running here.
type inactiveError struct {
	status models.ArenaStatus
}

func (e *inactiveError) Error() string { return "arena is " + string(e.status) }

// room returns the live room of arenaID. LOBBY arenas are loaded from the store on a miss;
// arenas in any other state that this process is not running are rejected.
func (s *Service) room(ctx context.Context, arenaID uuid.UUID, op string) (*Room, error) {
	room, err := s.rooms.getOrLoad(ctx, arenaID, s.loadRoom)
	if err != nil {
		var inactive *inactiveError
		if errors.As(err, &inactive) {
			return nil, invalidPhase(op, inactive.status)
		}
		return nil, err
	}
	return room, nil
}

func (s *Service) loadRoom(ctx context.Context, arenaID uuid.UUID) (*Room, error) {
	session, err := s.store.GetSession(ctx, arenaID)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, &NotFoundError{Kind: "arena", Key: arenaID.String()}
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.Status != models.ArenaLobby {
		return nil, &inactiveError{status: session.Status}
	}
	participants, err := s.store.ListParticipants(ctx, arenaID)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	room := newRoom(*session, participants)
	if session.ContentSource == models.SourceCustom {
		if room.questions, err = s.store.ListQuestions(ctx, arenaID); err != nil {
			return nil, fmt.Errorf("load questions: %w", err)
		}
	}
	return room, nil
}

func (s *Service) notLive(ctx context.Context, arenaID uuid.UUID, op string) error {
	session, err := s.store.GetSession(ctx, arenaID)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return &NotFoundError{Kind: "arena", Key: arenaID.String()}
		}
		return err
	}
	return invalidPhase(op, session.Status)
}

func (s *Service) profile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	profile, err := s.users.Profile(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, &NotFoundError{Kind: "user", Key: userID.String()}
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return profile, nil
}

func newParticipant(arenaID uuid.UUID, profile *models.UserProfile, now time.Time) models.ArenaParticipant {
	return models.ArenaParticipant{
		ID:          uuid.New(),
		ArenaID:     arenaID,
		UserID:      profile.ID,
		DisplayName: profile.FullName,
		AvatarURL:   profile.AvatarURL,
		Connected:   true,
		JoinedAt:    now,
	}
}

func buildQuestions(arenaID uuid.UUID, generated []content.GeneratedQuestion) []models.ArenaQuestion {
	out := make([]models.ArenaQuestion, len(generated))
	for i, g := range generated {
		q := models.ArenaQuestion{
			ID:             uuid.New(),
			ArenaID:        arenaID,
			QuestionNumber: i + 1,
			Question:       g.Question,
			CorrectAnswer:  g.CorrectAnswer,
			Explanation:    g.Explanation,
			BasePoints:     scoring.BasePoints,
			FlashcardID:    g.FlashcardID,
		}
		copy(q.Options[:], g.Options)
		out[i] = q
	}
	return out
}

func toGenerated(qs []models.ArenaQuestion) []content.GeneratedQuestion {
	out := make([]content.GeneratedQuestion, len(qs))
	for i, q := range qs {
		out[i] = content.GeneratedQuestion{
			Question:      q.Question,
			Options:       q.Options[:],
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
			FlashcardID:   q.FlashcardID,
		}
	}
	return out
}
