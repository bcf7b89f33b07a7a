package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for the call lifecycle trail.
//
// It MUST be append-only; there are no update or delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records call lifecycle transitions.
//
// Callers should treat recording as best-effort: log an append failure and
// move on, never fail the transition itself.
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
	if e.OrgID == "" || e.CallID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
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

// RecordTransition is the convenience used by the signaling relay.
func (s *Service) RecordTransition(ctx context.Context, typ EventType, orgID, callID, actorUserID, actorRole, message string) error {
	return s.Append(ctx, Event{
		OrgID:       orgID,
		Type:        typ,
		CallID:      callID,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		Message:     message,
	})
}
