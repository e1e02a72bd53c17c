// Package broadcast fans arena events out to a pub/sub transport. Publishing is best effort:
// events are rate limited per (arena, event type), dropped when the outbound buffer is full,
// and transport failures are logged, never returned.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMinInterval is the minimum spacing between two sends of one event type to one arena.
	DefaultMinInterval = 100 * time.Millisecond
	// DefaultSweepInterval is how often stale limiter entries are swept.
	DefaultSweepInterval = 30 * time.Second
	// DefaultEntryMaxAge is the age after which a limiter entry is swept.
	DefaultEntryMaxAge = 60 * time.Second
	// DefaultBufferSize bounds the outbound queue.
	DefaultBufferSize = 1024
	// DefaultSendTimeout bounds one transport publish.
	DefaultSendTimeout = 5 * time.Second
)

// Transport delivers a serialized event to every subscriber of channel.
type Transport interface {
	Publish(ctx context.Context, channel, eventType string, payload []byte) error
}

// Publisher is what game logic depends on.
type Publisher interface {
	Publish(arenaID uuid.UUID, ev Event)
}

// Failure describes one event that could not be delivered.
type Failure struct {
	ArenaID   uuid.UUID
	EventType EventType
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("broadcast %s to arena %s: %v", f.EventType, f.ArenaID, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// FailureReporter observes delivery failures. It must not block.
type FailureReporter func(*Failure)

// Options tunes a Gateway. Zero values select the defaults.
type Options struct {
	MinInterval   time.Duration
	SweepInterval time.Duration
	EntryMaxAge   time.Duration
	BufferSize    int
	SendTimeout   time.Duration
	OnFailure     FailureReporter
	Now           func() time.Time
}

type outbound struct {
	arenaID uuid.UUID
	ev      Event
	at      time.Time
}

// Gateway is the rate-limited, asynchronous BroadcastGateway.
type Gateway struct {
	transport Transport
	limiter   RateStore
	opts      Options
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan outbound
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sent    atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewGateway creates a gateway. Call Start before publishing and Close on shutdown.
func NewGateway(transport Transport, limiter RateStore, opts Options, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = NewMemoryRateStore()
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.EntryMaxAge <= 0 {
		opts.EntryMaxAge = DefaultEntryMaxAge
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gateway{
		transport: transport,
		limiter:   limiter,
		opts:      opts,
		logger:    logger,
		queue:     make(chan outbound, opts.BufferSize),
	}
}

// Start launches the sender and the limiter sweep.
func (g *Gateway) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.wg.Add(2)
	go g.run()
	go g.sweep(ctx)
	g.logger.Info("broadcast gateway started", zap.Duration("min_interval", g.opts.MinInterval))
}

// Close stops accepting events, delivers what is already queued and stops the sweep.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	close(g.queue)
	g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
	g.logger.Info("broadcast gateway stopped",
		zap.Int64("sent", g.sent.Load()),
		zap.Int64("dropped", g.dropped.Load()),
		zap.Int64("failed", g.failed.Load()))
}

// Publish queues ev for arenaID and returns immediately.
func (g *Gateway) Publish(arenaID uuid.UUID, ev Event) {
	if ev == nil {
		return
	}
	msg := outbound{arenaID: arenaID, ev: ev, at: g.opts.Now()}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		g.dropped.Add(1)
		return
	}
	select {
	case g.queue <- msg:
	default:
		g.dropped.Add(1)
		g.logger.Warn("broadcast buffer full, dropping event",
			zap.String("arena_id", arenaID.String()),
			zap.String("event", string(ev.Type())))
	}
}

// Stats returns counters since Start.
func (g *Gateway) Stats() (sent, dropped, failed int64) {
	return g.sent.Load(), g.dropped.Load(), g.failed.Load()
}

func (g *Gateway) run() {
	defer g.wg.Done()
	for msg := range g.queue {
		g.deliver(msg)
	}
}

func (g *Gateway) deliver(msg outbound) {
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.SendTimeout)
	defer cancel()

	eventType := msg.ev.Type()
	key := msg.arenaID.String() + ":" + string(eventType)
	ok, err := g.limiter.Reserve(ctx, key, msg.at, g.opts.MinInterval)
	if err != nil {
		// The limiter protects the transport, it is not a reason to lose the event.
		g.logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
		ok = true
	}
	if !ok {
		g.dropped.Add(1)
		g.logger.Debug("event rate limited",
			zap.String("arena_id", msg.arenaID.String()),
			zap.String("event", string(eventType)))
		return
	}

	payload, err := json.Marshal(msg.ev)
	if err != nil {
		g.fail(&Failure{ArenaID: msg.arenaID, EventType: eventType, Err: fmt.Errorf("marshal: %w", err)})
		return
	}
	if err := g.transport.Publish(ctx, ChannelName(msg.arenaID), string(eventType), payload); err != nil {
		g.fail(&Failure{ArenaID: msg.arenaID, EventType: eventType, Err: err})
		return
	}
	g.sent.Add(1)
}

func (g *Gateway) fail(f *Failure) {
	g.failed.Add(1)
	g.logger.Error("broadcast failed",
		zap.String("arena_id", f.ArenaID.String()),
		zap.String("event", string(f.EventType)),
		zap.Error(f.Err))
	if g.opts.OnFailure != nil {
		g.opts.OnFailure(f)
	}
}

func (g *Gateway) sweep(ctx context.Context) {
	defer g.wg.Done()
	ticker := time.NewTicker(g.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.limiter.Sweep(ctx, g.opts.Now().Add(-g.opts.EntryMaxAge))
			if err != nil {
				g.logger.Warn("rate limiter sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				g.logger.Debug("rate limiter swept", zap.Int("entries", n))
			}
		}
	}
}
