package realtime

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/practice-arena/backend/internal/broadcast"
)

type presenceLog struct {
	mu     sync.Mutex
	events []bool
	ch     chan bool
}

func (p *presenceLog) handle(_, _ uuid.UUID, connected bool) {
	p.mu.Lock()
	p.events = append(p.events, connected)
	p.mu.Unlock()
	p.ch <- connected
}

func (p *presenceLog) next(t *testing.T) bool {
	t.Helper()
	select {
	case v := <-p.ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for presence change")
		return false
	}
}

func startServer(t *testing.T, hub *Hub, user uuid.UUID) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	validate := func(token string) (uuid.UUID, error) {
		if token != "good" {
			return uuid.Nil, errors.New("bad token")
		}
		return user, nil
	}
	snapshot := func(_ context.Context, id uuid.UUID) (any, error) {
		return map[string]string{"arena_id": id.String()}, nil
	}
	r.GET("/ws", ServeWs(hub, zaptest.NewLogger(t), validate, snapshot))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHubDeliversArenaEvents(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t), nil)
	presence := &presenceLog{ch: make(chan bool, 8)}
	hub.SetPresenceHandler(presence.handle)
	user := uuid.New()
	arenaID := uuid.New()
	srv := startServer(t, hub, user)

	first := dial(t, srv, "arena_id="+arenaID.String()+"&token=good")
	if !presence.next(t) {
		t.Fatal("expected connected on first socket")
	}
	second := dial(t, srv, "arena_id="+arenaID.String()+"&token=good")
	defer second.Close()

	deadline := time.Now().Add(3 * time.Second)
	for hub.ClientCount(arenaID) != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := hub.ClientCount(arenaID); n != 2 {
		t.Fatalf("expected 2 sockets, got %d", n)
	}

	payload := []byte(`{"questionNumber":1}`)
	if err := hub.Publish(context.Background(), broadcast.ChannelName(arenaID), "question_start", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		if msg.Event != "question_start" || string(msg.Data) != string(payload) {
			t.Fatalf("unexpected message %+v", msg)
		}
	}

	if err := second.WriteJSON(WSMessage{Event: "sync"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, second); msg.Event != "snapshot" {
		t.Fatalf("expected snapshot, got %s", msg.Event)
	}

	first.Close()
	second.Close()
	if presence.next(t) {
		t.Fatal("expected disconnected after the last socket closed")
	}
	presence.mu.Lock()
	defer presence.mu.Unlock()
	if len(presence.events) != 2 {
		t.Fatalf("expected one connect and one disconnect, got %v", presence.events)
	}
}

func TestServeWsRejectsBadRequests(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t), nil)
	srv := startServer(t, hub, uuid.New())
	tests := []struct {
		name  string
		query string
		code  int
	}{
		{"missing token", "arena_id=" + uuid.NewString(), 400},
		{"bad arena", "arena_id=nope&token=good", 400},
		{"bad token", "arena_id=" + uuid.NewString() + "&token=bad", 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + tt.query
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			if err == nil {
				t.Fatal("expected dial to fail")
			}
			if resp == nil || resp.StatusCode != tt.code {
				t.Fatalf("expected status %d, got %v", tt.code, resp)
			}
		})
	}
}

func TestPublishRejectsForeignChannel(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t), nil)
	if err := hub.Publish(context.Background(), "webinar:123", "x", nil); err == nil {
		t.Fatal("expected error for a non-arena channel")
	}
}

func TestPresenceSettlesOnLatestState(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t), nil)
	arenaID, user := uuid.New(), uuid.New()
	first := &Client{ID: "first", ArenaID: arenaID, UserID: user}
	second := &Client{ID: "second", ArenaID: arenaID, UserID: user}

	var (
		mu     sync.Mutex
		events []bool
		wg     sync.WaitGroup
	)
	hub.SetPresenceHandler(func(_, _ uuid.UUID, connected bool) {
		mu.Lock()
		events = append(events, connected)
		n := len(events)
		mu.Unlock()
		if n == 1 {
			// Swap sockets while this report is still in flight.
			wg.Add(2)
			go func() {
				defer wg.Done()
				hub.Unregister(first)
			}()
			go func() {
				defer wg.Done()
				hub.Register(second)
			}()
		}
	})

	hub.Register(first)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 || !events[len(events)-1] {
		t.Fatalf("expected the last report to be connected, got %v", events)
	}
	for i := 1; i < len(events); i++ {
		if events[i] == events[i-1] {
			t.Fatalf("expected alternating reports, got %v", events)
		}
	}
	if n := hub.ClientCount(arenaID); n != 1 {
		t.Fatalf("expected 1 socket, got %d", n)
	}
}
