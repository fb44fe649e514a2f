package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the storage contract for audit events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, sessionID string) ([]Event, error)
}

// Service records the navigation trail of test calls.
// Callers treat recording as best-effort and never block a call on it.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.SessionID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Trail returns the events of one session in the order they were recorded.
func (s *Service) Trail(ctx context.Context, sessionID string) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if sessionID == "" {
		return nil, nil
	}
	return s.repo.List(ctx, sessionID)
}

func (s *Service) LogPrompt(ctx context.Context, sessionID string, turn int, transcription string) error {
	return s.Append(ctx, Event{
		SessionID:     sessionID,
		Type:          EventTypePromptHeard,
		Turn:          turn,
		Transcription: transcription,
	})
}

func (s *Service) LogAction(ctx context.Context, sessionID string, turn int, action, value string) error {
	return s.Append(ctx, Event{
		SessionID: sessionID,
		Type:      EventTypeActionDecided,
		Turn:      turn,
		Action:    action,
		Value:     value,
	})
}
