package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AIConfig configures the chat-completions endpoint used for AI_GENERATED arenas.
type AIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type chatCompletionRequest struct {
	Model          string                  `json:"model"`
	Messages       []chatCompletionMessage `json:"messages"`
	Stream         bool                    `json:"stream"`
	Temperature    *float64                `json:"temperature,omitempty"`
	ResponseFormat *responseFormat         `json:"response_format,omitempty"`
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
	} `json:"choices"`
}

const aiSystemPrompt = `You write multiple-choice quiz questions for a live study game.
Respond with JSON only, shaped as {"questions":[{"question":"...","options":["...","...","...","..."],"correctAnswer":0,"explanation":"..."}]}.
Every question has exactly four distinct options and correctAnswer is the zero-based index of the right one.`

// AISource asks an OpenAI-compatible chat-completions API for questions. Ref is the topic.
type AISource struct {
	client *http.Client
	cfg    AIConfig
	logger *zap.Logger
}

// NewAISource creates an AI question source.
func NewAISource(cfg AIConfig, logger *zap.Logger) *AISource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AISource{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
	}
}

// Generate implements Source. A few extra questions are requested so validation can drop bad ones.
func (s *AISource) Generate(ctx context.Context, req Request) ([]GeneratedQuestion, error) {
	topic := strings.TrimSpace(req.Ref)
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	want := req.Count + req.Count/5 + 1
	temperature := 0.7
	body := chatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []chatCompletionMessage{
			{Role: "system", Content: aiSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Write %d questions about: %s", want, topic)},
		},
		Temperature:    &temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	resp, err := s.send(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	set, err := ParseQuestionSet(strings.NewReader(stripCodeFence(resp.Choices[0].Message.Content)))
	if err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}
	s.logger.Info("ai questions generated",
		zap.String("topic", topic), zap.Int("requested", want), zap.Int("received", len(set.Questions)))
	return set.Questions, nil
}

func (s *AISource) send(ctx context.Context, body chatCompletionRequest) (*chatCompletionResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	res, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("chat completion status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out chatCompletionResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode chat completion: %w", err)
	}
	return &out, nil
}

// stripCodeFence removes a ```json fence some models wrap their output in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
