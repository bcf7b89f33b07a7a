package availability

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a responder has never reported a status.
var ErrNotFound = errors.New("availability: not found")

// Repository is the persistence contract for the availability index.
type Repository interface {
	// Set upserts a responder's current status.
	Set(ctx context.Context, r Responder) error

	// FindAvailable returns responders with status=available in the org,
	// most-recently-active first. skills, when non-empty, narrows the set
	// to responders carrying every tag.
	FindAvailable(ctx context.Context, orgID string, skills []string) ([]Responder, error)

	// GetOne returns a single responder's record or ErrNotFound.
	GetOne(ctx context.Context, userID, orgID string) (Responder, error)

	Close() error
}
