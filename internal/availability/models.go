package availability

import "time"

// Responder is one staff member's current eligibility to receive calls.
//
// This is a read model maintained by explicit status sets (and disconnect
// implying away); the router treats it as advisory. The call store's CAS
// accept is the actual source of truth for who wins a call.
type Responder struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`

	Status Status `json:"status"`

	// Dept groups responders for department-scoped broadcasts.
	Dept string `json:"dept,omitempty"`

	// Skills are optional routing tags.
	Skills []string `json:"skills,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusAway      Status = "away"
	StatusOffline   Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBusy, StatusAway, StatusOffline:
		return true
	default:
		return false
	}
}

// HasSkills reports whether the responder carries every requested tag.
func (r Responder) HasSkills(want []string) bool {
	if len(want) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(r.Skills))
	for _, s := range r.Skills {
		have[s] = struct{}{}
	}
	for _, w := range want {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}
