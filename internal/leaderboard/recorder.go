package leaderboard

import (
	"context"

	"go.uber.org/zap"

	"github.com/practice-arena/backend/internal/models"
)

// Enqueuer hands a completed game to the background worker.
type Enqueuer interface {
	EnqueueArenaResult(ctx context.Context, result models.GameResult) error
}

// QueuedRecorder defers weekly stats to the worker and applies them inline if enqueueing fails.
type QueuedRecorder struct {
	queue    Enqueuer
	fallback *Aggregator
	logger   *zap.Logger
}

// NewQueuedRecorder creates a recorder backed by q.
func NewQueuedRecorder(q Enqueuer, fallback *Aggregator, logger *zap.Logger) *QueuedRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueuedRecorder{queue: q, fallback: fallback, logger: logger}
}

// RecordGame enqueues result.
func (r *QueuedRecorder) RecordGame(ctx context.Context, result models.GameResult) error {
	err := r.queue.EnqueueArenaResult(ctx, result)
	if err == nil {
		return nil
	}
	r.logger.Warn("enqueue arena result failed, applying inline", zap.Error(err), zap.String("arena_id", result.ArenaID.String()))
	return r.fallback.RecordGame(ctx, result)
}
