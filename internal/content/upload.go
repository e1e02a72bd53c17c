package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/practice-arena/backend/pkg/storage"
)

var (
	// ErrUploadNotOwned is returned when a host references another host's upload.
	ErrUploadNotOwned = errors.New("question set does not belong to host")
	// ErrInvalidQuestionSet is returned for uploads that fail validation.
	ErrInvalidQuestionSet = errors.New("invalid question set")
)

// QuestionSetStore reads and writes uploaded question set documents.
type QuestionSetStore interface {
	PutQuestionSet(ctx context.Context, key string, body io.Reader, contentLength int64) error
	OpenQuestionSet(ctx context.Context, key string) (io.ReadCloser, error)
}

// QuestionSet is the stored upload document.
type QuestionSet struct {
	Title     string              `json:"title,omitempty"`
	Questions []GeneratedQuestion `json:"questions"`
}

// ParseQuestionSet decodes an upload. Both {"questions": [...]} and a bare array are accepted.
func ParseQuestionSet(r io.Reader) (*QuestionSet, error) {
	data, err := io.ReadAll(io.LimitReader(r, storage.MaxQuestionSetSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > storage.MaxQuestionSetSize {
		return nil, fmt.Errorf("question set exceeds %d bytes", storage.MaxQuestionSetSize)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("question set is empty")
	}

	var set QuestionSet
	if data[0] == '[' {
		if err := json.Unmarshal(data, &set.Questions); err != nil {
			return nil, fmt.Errorf("decode question set: %w", err)
		}
	} else if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode question set: %w", err)
	}
	return &set, nil
}

// UploadSource serves questions from a stored upload. Ref is the object key.
type UploadSource struct {
	Store QuestionSetStore
}

// Generate implements Source.
func (s UploadSource) Generate(ctx context.Context, req Request) ([]GeneratedQuestion, error) {
	if !storage.OwnedBy(req.Ref, req.HostID.String()) {
		return nil, ErrUploadNotOwned
	}
	body, err := s.Store.OpenQuestionSet(ctx, req.Ref)
	if err != nil {
		return nil, fmt.Errorf("open question set: %w", err)
	}
	defer body.Close()
	set, err := ParseQuestionSet(body)
	if err != nil {
		return nil, err
	}
	return set.Questions, nil
}

// SaveQuestionSet validates set and stores it for hostID, returning the object key.
func SaveQuestionSet(ctx context.Context, store QuestionSetStore, hostID uuid.UUID, set *QuestionSet) (string, error) {
	if len(set.Questions) == 0 {
		return "", fmt.Errorf("%w: no questions", ErrInvalidQuestionSet)
	}
	for i, q := range set.Questions {
		if err := q.Validate(); err != nil {
			return "", fmt.Errorf("%w: question %d: %v", ErrInvalidQuestionSet, i+1, err)
		}
	}
	data, err := json.Marshal(set)
	if err != nil {
		return "", err
	}
	key := storage.QuestionSetKey(hostID.String(), uuid.NewString())
	if err := store.PutQuestionSet(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", err
	}
	return key, nil
}
