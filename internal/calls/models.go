package calls

import "time"

// Call is the unit of work routed between a client and staff.
//
// Multi-tenant invariant: OrgID is required on every row.
//
// AcceptedByUserID transitions from empty to a single non-empty value exactly
// once over the call's lifetime; the CAS accept in the Store is the only code
// path allowed to set it.
type Call struct {
	ID    string `json:"call_id" db:"id"`
	OrgID string `json:"org_id" db:"org_id"`

	Status CallStatus `json:"status" db:"status"`

	CreatedByUserID  string `json:"created_by_user_id" db:"created_by_user_id"`
	AcceptedByUserID string `json:"accepted_by_user_id,omitempty" db:"accepted_by_user_id"`

	// Reason is the free-text purpose supplied at initiation. Terminal
	// transitions may overwrite it with an outcome note (e.g. "no available staff").
	Reason string `json:"reason,omitempty" db:"reason"`

	// Metadata carries transient handshake artifacts for late-join replay.
	// It is NOT authoritative call state.
	Metadata Metadata `json:"metadata,omitempty" db:"metadata"`

	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
	RingExpiresAt time.Time `json:"ring_expires_at,omitempty" db:"ring_expires_at"`
	EndedAt       time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Metadata holds the last-known SDP exchanged on the call, replayed to
// connections that join the call room late.
type Metadata struct {
	SDPOffer  string `json:"sdp_offer,omitempty"`
	SDPAnswer string `json:"sdp_answer,omitempty"`
}

type CallStatus string

const (
	StatusInitiated CallStatus = "initiated"
	StatusRinging   CallStatus = "ringing"
	StatusAccepted  CallStatus = "accepted"
	StatusDeclined  CallStatus = "declined"
	StatusCanceled  CallStatus = "canceled"
	StatusEnded     CallStatus = "ended"
	StatusMissed    CallStatus = "missed"
)

// IsTerminal reports whether no further mutation is permitted.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case StatusDeclined, StatusCanceled, StatusEnded, StatusMissed:
		return true
	default:
		return false
	}
}

// CanTransition validates the call state machine:
//
//	initiated -> ringing | missed | declined | canceled
//	ringing   -> accepted | declined | canceled | missed
//	accepted  -> ended
//
// Accept is additionally restricted to the CAS path; CanTransition only
// answers whether the edge exists at all.
func CanTransition(from, to CallStatus) bool {
	switch from {
	case StatusInitiated:
		return to == StatusRinging || to == StatusMissed || to == StatusDeclined || to == StatusCanceled
	case StatusRinging:
		return to == StatusAccepted || to == StatusDeclined || to == StatusCanceled || to == StatusMissed
	case StatusAccepted:
		return to == StatusEnded
	default:
		return false
	}
}

// transitionSources lists the statuses a guarded update may start from.
func transitionSources(to CallStatus) []CallStatus {
	switch to {
	case StatusRinging:
		return []CallStatus{StatusInitiated}
	case StatusAccepted:
		return []CallStatus{StatusRinging}
	case StatusDeclined, StatusCanceled, StatusMissed:
		return []CallStatus{StatusInitiated, StatusRinging}
	case StatusEnded:
		return []CallStatus{StatusAccepted}
	default:
		return nil
	}
}

// Participant is one party attached to a call. All candidate staff get a row
// at initiation; only one of them ever reaches accepted at the call level.
type Participant struct {
	ID     string           `json:"id" db:"id"`
	CallID string           `json:"call_id" db:"call_id"`
	UserID string           `json:"user_id" db:"user_id"`
	Role   ParticipantRole  `json:"role" db:"role"`
	State  ParticipantState `json:"state" db:"state"`
}

type ParticipantRole string

const (
	RoleClient ParticipantRole = "client"
	RoleStaff  ParticipantRole = "staff"
)

type ParticipantState string

const (
	ParticipantInvited  ParticipantState = "invited"
	ParticipantJoined   ParticipantState = "joined"
	ParticipantDeclined ParticipantState = "declined"
	ParticipantLeft     ParticipantState = "left"
)

// StatusPatch carries optional fields applied together with a status update.
type StatusPatch struct {
	Reason  string
	EndedAt time.Time
}
