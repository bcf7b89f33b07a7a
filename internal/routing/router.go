package routing

import (
	"context"
	"errors"
	"time"

	"callbridge/internal/availability"
	"callbridge/internal/calls"

	"github.com/google/uuid"
)

// Router resolves the initial candidate set for a new call and persists the
// call in its starting state.
//
// It never waits or retries: a specific target that is not available, or an
// empty broadcast set, yields an immediately-missed call. The availability
// index is advisory only; a candidate returned here may still lose the CAS
// accept race, which is fine.
type Router struct {
	Store        calls.Store
	Availability availability.Repository
	Caps         CapacityLimiter

	RingTimeout time.Duration
	Now         func() time.Time
}

func NewRouter(store calls.Store, avail availability.Repository, caps CapacityLimiter, ringTimeout time.Duration) *Router {
	if caps == nil {
		caps = NoopLimiter{}
	}
	return &Router{
		Store:        store,
		Availability: avail,
		Caps:         caps,
		RingTimeout:  ringTimeout,
		Now:          time.Now,
	}
}

// Request is one call initiation.
type Request struct {
	OrgID    string
	ClientID string
	Reason   string

	// TargetStaffID narrows routing to a single responder.
	TargetStaffID string
	// Department narrows a broadcast to one department's responders.
	Department string
	// Skills narrows a broadcast to responders carrying every tag.
	Skills []string
}

// Routed is the outcome of routing one call.
type Routed struct {
	Call       calls.Call
	Candidates []availability.Responder

	// Missed is true when no eligible responder existed and the call was
	// persisted directly in its terminal missed state. No invite must be
	// broadcast and no timer armed.
	Missed bool
}

const (
	reasonNoStaff  = "no available staff"
	reasonCapacity = "call capacity reached"
)

// RouteNewCall resolves candidates and creates the call.
func (r *Router) RouteNewCall(ctx context.Context, req Request) (Routed, error) {
	if req.OrgID == "" || req.ClientID == "" {
		return Routed{}, errors.New("routing: org_id and client_id required")
	}

	candidates, err := r.resolveCandidates(ctx, req)
	if err != nil {
		return Routed{}, err
	}

	if len(candidates) == 0 {
		return r.createMissed(ctx, req, reasonNoStaff)
	}

	// Capacity is acquired only for calls that will actually ring; a breach
	// behaves exactly like routing exhaustion.
	ok, err := r.Caps.Acquire(ctx, req.OrgID)
	if err != nil {
		return Routed{}, err
	}
	if !ok {
		return r.createMissed(ctx, req, reasonCapacity)
	}

	now := r.Now().UTC()
	call := calls.Call{
		ID:              uuid.NewString(),
		OrgID:           req.OrgID,
		Status:          calls.StatusRinging,
		CreatedByUserID: req.ClientID,
		Reason:          req.Reason,
		CreatedAt:       now,
		UpdatedAt:       now,
		RingExpiresAt:   now.Add(r.RingTimeout),
	}

	participants := make([]calls.Participant, 0, len(candidates)+1)
	participants = append(participants, calls.Participant{
		ID:     uuid.NewString(),
		CallID: call.ID,
		UserID: req.ClientID,
		Role:   calls.RoleClient,
		State:  calls.ParticipantInvited,
	})
	for _, cand := range candidates {
		participants = append(participants, calls.Participant{
			ID:     uuid.NewString(),
			CallID: call.ID,
			UserID: cand.UserID,
			Role:   calls.RoleStaff,
			State:  calls.ParticipantInvited,
		})
	}

	if err := r.Store.Create(ctx, call, participants); err != nil {
		_ = r.Caps.Release(ctx, req.OrgID)
		return Routed{}, err
	}
	return Routed{Call: call, Candidates: candidates}, nil
}

func (r *Router) resolveCandidates(ctx context.Context, req Request) ([]availability.Responder, error) {
	if req.TargetStaffID != "" {
		resp, err := r.Availability.GetOne(ctx, req.TargetStaffID, req.OrgID)
		if err != nil {
			if errors.Is(err, availability.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if resp.Status != availability.StatusAvailable {
			// A busy target is an immediate miss, never a queued retry.
			return nil, nil
		}
		return []availability.Responder{resp}, nil
	}

	all, err := r.Availability.FindAvailable(ctx, req.OrgID, req.Skills)
	if err != nil {
		return nil, err
	}
	if req.Department == "" {
		return all, nil
	}
	var out []availability.Responder
	for _, resp := range all {
		if resp.Dept == req.Department {
			out = append(out, resp)
		}
	}
	return out, nil
}

func (r *Router) createMissed(ctx context.Context, req Request, reason string) (Routed, error) {
	now := r.Now().UTC()
	call := calls.Call{
		ID:              uuid.NewString(),
		OrgID:           req.OrgID,
		Status:          calls.StatusMissed,
		CreatedByUserID: req.ClientID,
		Reason:          reason,
		CreatedAt:       now,
		UpdatedAt:       now,
		EndedAt:         now,
	}
	participants := []calls.Participant{{
		ID:     uuid.NewString(),
		CallID: call.ID,
		UserID: req.ClientID,
		Role:   calls.RoleClient,
		State:  calls.ParticipantInvited,
	}}
	if err := r.Store.Create(ctx, call, participants); err != nil {
		return Routed{}, err
	}
	return Routed{Call: call, Missed: true}, nil
}
