package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

type sentMessage struct {
	channel   string
	eventType string
	payload   []byte
}

type recordingTransport struct {
	mu   sync.Mutex
	msgs []sentMessage
	err  error
}

func (r *recordingTransport) Publish(_ context.Context, channel, eventType string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, sentMessage{channel: channel, eventType: eventType, payload: payload})
	return nil
}

func (r *recordingTransport) count(eventType EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.eventType == string(eventType) {
			n++
		}
	}
	return n
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestGateway(t *testing.T, transport Transport, clock *fakeClock, onFailure FailureReporter) *Gateway {
	t.Helper()
	g := NewGateway(transport, NewMemoryRateStore(), Options{Now: clock.Now, OnFailure: onFailure}, zaptest.NewLogger(t))
	g.Start()
	return g
}

func TestGatewayRateLimitsBurst(t *testing.T) {
	transport := &recordingTransport{}
	clock := &fakeClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	g := newTestGateway(t, transport, clock, nil)

	arenaID := uuid.New()
	for i := 0; i < 20; i++ {
		g.Publish(arenaID, AnswerSubmitted{ParticipantID: uuid.New(), AnsweredCount: i + 1, TotalParticipants: 20})
		clock.Advance(10 * time.Millisecond)
	}
	g.Close()

	if got := transport.count(TypeAnswerSubmitted); got > 2 {
		t.Fatalf("expected at most 2 sends within 200ms, got %d", got)
	}
	if got := transport.count(TypeAnswerSubmitted); got == 0 {
		t.Fatal("expected the first event of the burst to be sent")
	}
	_, dropped, _ := g.Stats()
	if dropped != 18 {
		t.Errorf("expected 18 dropped events, got %d", dropped)
	}
}

func TestGatewayLimitsPerArenaAndEventType(t *testing.T) {
	transport := &recordingTransport{}
	clock := &fakeClock{now: time.Unix(0, 0)}
	g := newTestGateway(t, transport, clock, nil)

	a, b := uuid.New(), uuid.New()
	g.Publish(a, AnswerSubmitted{AnsweredCount: 1})
	g.Publish(b, AnswerSubmitted{AnsweredCount: 1})
	g.Publish(a, QuestionEnd{QuestionNumber: 1})
	g.Publish(a, LeaderboardUpdate{QuestionNumber: 1})
	g.Close()

	if got := len(transport.msgs); got != 4 {
		t.Fatalf("expected 4 independent sends, got %d", got)
	}
	if transport.msgs[0].channel != "arena:"+a.String() {
		t.Errorf("expected channel arena:%s, got %s", a, transport.msgs[0].channel)
	}
}

func TestGatewaySwallowsTransportFailures(t *testing.T) {
	transport := &recordingTransport{err: errors.New("redis down")}
	clock := &fakeClock{now: time.Unix(0, 0)}

	var mu sync.Mutex
	var failures []*Failure
	g := newTestGateway(t, transport, clock, func(f *Failure) {
		mu.Lock()
		failures = append(failures, f)
		mu.Unlock()
	})

	arenaID := uuid.New()
	g.Publish(arenaID, GameEnd{Stats: GameStats{TotalQuestions: 5}})
	g.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 {
		t.Fatalf("expected 1 reported failure, got %d", len(failures))
	}
	if failures[0].EventType != TypeGameEnd || failures[0].ArenaID != arenaID {
		t.Errorf("unexpected failure %+v", failures[0])
	}
	if !errors.Is(failures[0], transport.err) {
		t.Errorf("expected failure to wrap transport error, got %v", failures[0])
	}
}

func TestGatewayPublishAfterCloseIsDropped(t *testing.T) {
	transport := &recordingTransport{}
	g := newTestGateway(t, transport, &fakeClock{now: time.Unix(0, 0)}, nil)
	g.Close()
	g.Publish(uuid.New(), GameStarting{CountdownSeconds: 3})
	if len(transport.msgs) != 0 {
		t.Fatalf("expected no sends after close, got %d", len(transport.msgs))
	}
}

func TestAnswerSubmittedPayloadHasNoSelection(t *testing.T) {
	data, err := json.Marshal(AnswerSubmitted{ParticipantID: uuid.New(), AnsweredCount: 2, TotalParticipants: 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"participantId", "answeredCount", "totalParticipants"} {
		if _, ok := fields[k]; !ok {
			t.Errorf("expected field %q in payload %s", k, data)
		}
	}
	if len(fields) != 3 {
		t.Errorf("expected exactly 3 fields, got %s", data)
	}
}

func TestMemoryRateStoreSweep(t *testing.T) {
	store := NewMemoryRateStore()
	ctx := context.Background()
	base := time.Unix(1000, 0)

	store.Reserve(ctx, "old", base, time.Second)
	store.Reserve(ctx, "fresh", base.Add(59*time.Second), time.Second)

	n, err := store.Sweep(ctx, base.Add(60*time.Second).Add(-DefaultEntryMaxAge).Add(time.Millisecond))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 || store.Len() != 1 {
		t.Fatalf("expected 1 swept and 1 kept, got swept=%d kept=%d", n, store.Len())
	}
	ok, _ := store.Reserve(ctx, "old", base.Add(61*time.Second), time.Second)
	if !ok {
		t.Error("expected swept key to be reservable again")
	}
}

func TestGatewaySweepEvictsIdleKeys(t *testing.T) {
	transport := &recordingTransport{}
	clock := &fakeClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryRateStore()
	g := NewGateway(transport, store, Options{
		SweepInterval: 5 * time.Millisecond,
		EntryMaxAge:   time.Minute,
		Now:           clock.Now,
	}, zaptest.NewLogger(t))
	g.Start()
	defer g.Close()

	g.Publish(uuid.New(), GameStarting{CountdownSeconds: 3, TotalQuestions: 5})
	waitUntil(t, func() bool { return store.Len() == 1 })

	// Several sweeps run before the clock moves; the fresh key must survive them.
	time.Sleep(30 * time.Millisecond)
	if store.Len() != 1 {
		t.Fatalf("expected the fresh key to be kept, got %d keys", store.Len())
	}

	clock.Advance(time.Minute + time.Second)
	waitUntil(t, func() bool { return store.Len() == 0 })
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
