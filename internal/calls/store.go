package calls

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned on any read of a missing call id.
	ErrNotFound = errors.New("calls: not found")

	// ErrConflict is returned when a guarded transition is illegal for the
	// call's current status, or when creating a call whose id already exists.
	// A lost CAS accept is NOT a conflict error; it is a normal false result.
	ErrConflict = errors.New("calls: conflict")
)

// Store is the persistence contract for calls and their participants.
//
// AcceptCAS is the one operation that must be atomic: two staff may race it
// within microseconds and exactly one may win. Implementations must use a
// single conditional write (SQL affected-row count, or an in-process mutex
// guarding check-then-set), never an unguarded read-then-write.
type Store interface {
	// Create persists a new call plus its participant rows.
	// Returns ErrConflict if the call id already exists.
	Create(ctx context.Context, call Call, participants []Participant) error

	Get(ctx context.Context, callID string) (Call, error)
	GetParticipants(ctx context.Context, callID string) ([]Participant, error)

	// AcceptCAS sets status=accepted and accepted_by_user_id=staffID iff the
	// call is currently ringing. Returns false (and no mutation) otherwise.
	// A false result is expected under contention and must not be treated
	// as an error by callers.
	AcceptCAS(ctx context.Context, callID, staffID string) (bool, error)

	// UpdateStatus performs a guarded transition for caller-authorized
	// actions (decline, cancel, end, missed). Illegal transitions return
	// ErrConflict and leave the record unchanged.
	UpdateStatus(ctx context.Context, callID string, status CallStatus, patch StatusPatch) (Call, error)

	// SetParticipantState updates one participant row (invited/joined/declined/left).
	SetParticipantState(ctx context.Context, callID, userID string, state ParticipantState) error

	// SaveHandshake stores the last SDP of the given kind ("offer" or
	// "answer") into the call metadata for late-join replay.
	SaveHandshake(ctx context.Context, callID, kind, sdp string) error

	// ListByOrg returns calls created in [from, to) for reporting.
	ListByOrg(ctx context.Context, orgID string, from, to time.Time) ([]Call, error)

	// Close releases underlying resources.
	Close() error
}
