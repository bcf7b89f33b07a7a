package routing

import (
	"context"
	"testing"
	"time"

	"callbridge/internal/availability"
	"callbridge/internal/calls"
)

type denyLimiter struct{}

func (denyLimiter) Acquire(ctx context.Context, orgID string) (bool, error) { return false, nil }
func (denyLimiter) Release(ctx context.Context, orgID string) error         { return nil }

func newRouter(t *testing.T, caps CapacityLimiter) (*Router, *calls.MemoryStore, *availability.MemoryRepo) {
	t.Helper()
	store := calls.NewMemoryStore()
	avail := availability.NewMemoryRepo()
	r := NewRouter(store, avail, caps, 45*time.Second)
	return r, store, avail
}

func setAvailable(t *testing.T, avail *availability.MemoryRepo, userID, dept string) {
	t.Helper()
	err := avail.Set(context.Background(), availability.Responder{
		UserID:    userID,
		OrgID:     "org-1",
		Status:    availability.StatusAvailable,
		Dept:      dept,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("set availability: %v", err)
	}
}

func TestRouteNewCall_TargetedHappyPath(t *testing.T) {
	r, store, avail := newRouter(t, nil)
	setAvailable(t, avail, "staff-1", "cs")

	out, err := r.RouteNewCall(context.Background(), Request{OrgID: "org-1", ClientID: "client-1", TargetStaffID: "staff-1"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if out.Missed {
		t.Fatalf("expected ringing, got missed")
	}
	if out.Call.Status != calls.StatusRinging {
		t.Fatalf("expected ringing, got %s", out.Call.Status)
	}
	if len(out.Candidates) != 1 || out.Candidates[0].UserID != "staff-1" {
		t.Fatalf("unexpected candidates: %+v", out.Candidates)
	}
	if out.Call.RingExpiresAt.IsZero() {
		t.Fatalf("expected ring_expires_at set")
	}

	ps, err := store.GetParticipants(context.Background(), out.Call.ID)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(ps) != 2 {
		t.Fatalf("expected client + staff participants, got %d", len(ps))
	}
}

func TestRouteNewCall_BusyTargetIsImmediateMiss(t *testing.T) {
	r, store, avail := newRouter(t, nil)
	_ = avail.Set(context.Background(), availability.Responder{UserID: "staff-1", OrgID: "org-1", Status: availability.StatusBusy})

	out, err := r.RouteNewCall(context.Background(), Request{OrgID: "org-1", ClientID: "client-1", TargetStaffID: "staff-1"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !out.Missed || out.Call.Status != calls.StatusMissed {
		t.Fatalf("expected missed, got %+v", out.Call)
	}
	if out.Call.Reason != "no available staff" {
		t.Fatalf("unexpected reason %q", out.Call.Reason)
	}
	if out.Call.AcceptedByUserID != "" {
		t.Fatalf("missed call must have no acceptor")
	}

	// The call record is persisted in its terminal state.
	c, err := store.Get(context.Background(), out.Call.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != calls.StatusMissed {
		t.Fatalf("store holds %s", c.Status)
	}
}

func TestRouteNewCall_BroadcastFansOutToAllAvailable(t *testing.T) {
	r, _, avail := newRouter(t, nil)
	setAvailable(t, avail, "staff-1", "cs")
	setAvailable(t, avail, "staff-2", "cs")
	setAvailable(t, avail, "staff-3", "math")

	out, err := r.RouteNewCall(context.Background(), Request{OrgID: "org-1", ClientID: "client-1"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(out.Candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(out.Candidates))
	}
}

func TestRouteNewCall_DepartmentScopesBroadcast(t *testing.T) {
	r, _, avail := newRouter(t, nil)
	setAvailable(t, avail, "staff-1", "cs")
	setAvailable(t, avail, "staff-2", "math")

	out, err := r.RouteNewCall(context.Background(), Request{OrgID: "org-1", ClientID: "client-1", Department: "math"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(out.Candidates) != 1 || out.Candidates[0].UserID != "staff-2" {
		t.Fatalf("unexpected candidates: %+v", out.Candidates)
	}
}

func TestRouteNewCall_EmptyBroadcastIsImmediateMiss(t *testing.T) {
	r, _, _ := newRouter(t, nil)

	out, err := r.RouteNewCall(context.Background(), Request{OrgID: "org-1", ClientID: "client-1"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !out.Missed {
		t.Fatalf("expected missed")
	}
}

func TestRouteNewCall_CapacityBreachMisses(t *testing.T) {
	r, _, avail := newRouter(t, denyLimiter{})
	setAvailable(t, avail, "staff-1", "cs")

	out, err := r.RouteNewCall(context.Background(), Request{OrgID: "org-1", ClientID: "client-1"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !out.Missed || out.Call.Reason != "call capacity reached" {
		t.Fatalf("expected capacity miss, got %+v", out.Call)
	}
}
