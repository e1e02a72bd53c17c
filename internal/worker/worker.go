package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/practice-arena/backend/internal/models"
	"github.com/practice-arena/backend/pkg/queue"
)

// GameRecorder applies a completed game to the weekly leaderboard.
type GameRecorder interface {
	RecordGame(ctx context.Context, result models.GameResult) error
}

// Dequeuer is the part of the job queue the worker consumes.
type Dequeuer interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ResultProcessor processes arena result jobs: decode the game and roll it into weekly stats.
type ResultProcessor struct {
	recorder GameRecorder
	queue    Dequeuer
	backoff  time.Duration
	logger   *zap.Logger
}

// NewResultProcessor creates an arena result processor.
func NewResultProcessor(recorder GameRecorder, q Dequeuer, logger *zap.Logger) *ResultProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultProcessor{recorder: recorder, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one arena result job.
func (p *ResultProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeArenaResult {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var result models.GameResult
	if err := json.Unmarshal(job.Payload, &result); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := p.recorder.RecordGame(ctx, result); err != nil {
		return fmt.Errorf("record game: %w", err)
	}
	p.logger.Info("arena result processed", zap.String("job_id", job.ID), zap.String("arena_id", result.ArenaID.String()))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ResultProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("arena result worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ResultProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
