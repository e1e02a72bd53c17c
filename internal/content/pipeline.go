// Package content supplies validated question sets for arenas from several sources.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/practice-arena/backend/internal/models"
)

// OptionCount is the number of options every arena question has.
const OptionCount = 4

var (
	// ErrUnknownSource is returned for a source with no registered generator.
	ErrUnknownSource = errors.New("unknown content source")
	// ErrInsufficientQuestions is returned when a source yields fewer valid questions than requested.
	ErrInsufficientQuestions = errors.New("insufficient questions")
)

// GeneratedQuestion is one multiple-choice question produced by a source.
type GeneratedQuestion struct {
	Question      string     `json:"question"`
	Options       []string   `json:"options"`
	CorrectAnswer int        `json:"correctAnswer"`
	Explanation   string     `json:"explanation,omitempty"`
	FlashcardID   *uuid.UUID `json:"flashcardId,omitempty"`
}

// Validate checks the shape every arena question must have.
func (q GeneratedQuestion) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return errors.New("question text is empty")
	}
	if len(q.Options) != OptionCount {
		return fmt.Errorf("expected %d options, got %d", OptionCount, len(q.Options))
	}
	for i, o := range q.Options {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("option %d is empty", i)
		}
	}
	if q.CorrectAnswer < 0 || q.CorrectAnswer >= OptionCount {
		return fmt.Errorf("correct answer %d out of range", q.CorrectAnswer)
	}
	return nil
}

// Request describes the question set an arena needs.
type Request struct {
	HostID uuid.UUID
	Count  int
	// Ref is source specific: deck id for DECK, object key for UPLOAD, topic for AI_GENERATED.
	Ref    string
	Custom []GeneratedQuestion
}

// Source generates candidate questions. Output is validated by the Pipeline.
type Source interface {
	Generate(ctx context.Context, req Request) ([]GeneratedQuestion, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, req Request) ([]GeneratedQuestion, error)

// Generate implements Source.
func (f SourceFunc) Generate(ctx context.Context, req Request) ([]GeneratedQuestion, error) {
	return f(ctx, req)
}

// Pipeline routes requests to the registered source and validates the result.
type Pipeline struct {
	sources map[models.ContentSource]Source
	logger  *zap.Logger
}

// NewPipeline creates a pipeline with the CUSTOM source registered.
func NewPipeline(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{sources: make(map[models.ContentSource]Source), logger: logger}
	p.Register(models.SourceCustom, CustomSource{})
	return p
}

// Register sets the generator for source.
func (p *Pipeline) Register(source models.ContentSource, s Source) {
	p.sources[source] = s
}

// Supports reports whether a generator is registered for source.
func (p *Pipeline) Supports(source models.ContentSource) bool {
	_, ok := p.sources[source]
	return ok
}

// GenerateQuestions returns exactly req.Count valid questions or an error.
// Invalid candidates are discarded; a short result fails with ErrInsufficientQuestions.
func (p *Pipeline) GenerateQuestions(ctx context.Context, source models.ContentSource, req Request) ([]GeneratedQuestion, error) {
	s, ok := p.sources[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	candidates, err := s.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", source, err)
	}

	valid := make([]GeneratedQuestion, 0, req.Count)
	for i, q := range candidates {
		if err := q.Validate(); err != nil {
			p.logger.Debug("discarding generated question",
				zap.String("source", string(source)), zap.Int("index", i), zap.Error(err))
			continue
		}
		valid = append(valid, q)
		if len(valid) == req.Count {
			break
		}
	}
	if len(valid) < req.Count {
		return nil, fmt.Errorf("%w: %s produced %d of %d", ErrInsufficientQuestions, source, len(valid), req.Count)
	}
	return valid, nil
}

// CustomSource returns the host-authored questions carried in the request.
type CustomSource struct{}

// Generate implements Source.
func (CustomSource) Generate(_ context.Context, req Request) ([]GeneratedQuestion, error) {
	return req.Custom, nil
}
