package audit

import "time"

// Event is an immutable, append-only record of one call lifecycle transition.
//
// Invariants:
// - Events are never updated or deleted.
// - org_id is required for tenancy isolation.
// - Recording is best-effort; signaling must never block on audit failures.
type Event struct {
	ID    string `json:"id" db:"id"`
	OrgID string `json:"org_id" db:"org_id"`

	// Type indicates which transition produced the record.
	Type EventType `json:"type" db:"type"`

	CallID string `json:"call_id" db:"call_id"`

	// ActorUserID is the party that triggered the transition; empty for
	// system-initiated transitions (ring timeout).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventCallInitiated EventType = "call_initiated"
	EventCallAccepted  EventType = "call_accepted"
	EventCallDeclined  EventType = "call_declined"
	EventCallCanceled  EventType = "call_canceled"
	EventCallEnded     EventType = "call_ended"
	EventCallMissed    EventType = "call_missed"
)
