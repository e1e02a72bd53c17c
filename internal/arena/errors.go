package arena

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/practice-arena/backend/internal/broadcast"
	"github.com/practice-arena/backend/internal/models"
)

var (
	// ErrInvalidPhase marks a ValidationError caused by calling an operation in the wrong status.
	ErrInvalidPhase = errors.New("invalid phase")
	// ErrNotHost marks a ValidationError caused by a non-host calling a host-only operation.
	ErrNotHost = errors.New("only the host may do this")
)

// ValidationError rejects malformed parameters or an operation in the wrong phase.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func invalidPhase(op string, status models.ArenaStatus) error {
	return &ValidationError{Msg: fmt.Sprintf("cannot %s while %s", op, status), Err: ErrInvalidPhase}
}

func notHost(op string) error {
	return &ValidationError{Msg: "cannot " + op, Err: ErrNotHost}
}

// CapacityError is returned when joining a full arena.
type CapacityError struct {
	ArenaID    uuid.UUID
	MaxPlayers int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("arena %s is full (%d players)", e.ArenaID, e.MaxPlayers)
}

// NotFoundError is returned for an unknown session, question, participant or invite code.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Key)
}

// DuplicateJoinError is returned when a user joins an arena twice.
type DuplicateJoinError struct {
	ArenaID uuid.UUID
	UserID  uuid.UUID
}

func (e *DuplicateJoinError) Error() string {
	return fmt.Sprintf("user %s already joined arena %s", e.UserID, e.ArenaID)
}

// AlreadyAnsweredError is returned for a second answer to the same question by the same participant.
type AlreadyAnsweredError struct {
	QuestionID    uuid.UUID
	ParticipantID uuid.UUID
}

func (e *AlreadyAnsweredError) Error() string {
	return fmt.Sprintf("participant %s already answered question %s", e.ParticipantID, e.QuestionID)
}

// ContentGenerationFailure fails a start when the pipeline cannot supply the promised questions.
type ContentGenerationFailure struct {
	Source models.ContentSource
	Err    error
}

func (e *ContentGenerationFailure) Error() string {
	return fmt.Sprintf("content generation from %s failed: %v", e.Source, e.Err)
}

func (e *ContentGenerationFailure) Unwrap() error { return e.Err }

// BroadcastFailure is reported to the gateway's failure hook and never returned by Service.
type BroadcastFailure = broadcast.Failure
