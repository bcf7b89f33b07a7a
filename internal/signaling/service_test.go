package signaling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"callbridge/internal/auth"
	"callbridge/internal/availability"
	"callbridge/internal/calls"
	"callbridge/internal/rbac"
	"callbridge/internal/routing"
)

func newService(t *testing.T) (*Service, *calls.MemoryStore, *Hub) {
	t.Helper()
	store := calls.NewMemoryStore()
	hub := NewHub()
	sup := NewSupervisor()
	t.Cleanup(sup.Stop)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, hub, NewRooms(""), sup, nil, nil, 45*time.Second, log)
	return svc, store, hub
}

func seedRinging(t *testing.T, store *calls.MemoryStore, callID string, staffIDs ...string) calls.Call {
	t.Helper()
	now := time.Now().UTC()
	call := calls.Call{
		ID:              callID,
		OrgID:           "org-1",
		Status:          calls.StatusRinging,
		CreatedByUserID: "client-1",
		Reason:          "support",
		CreatedAt:       now,
		UpdatedAt:       now,
		RingExpiresAt:   now.Add(45 * time.Second),
	}
	ps := []calls.Participant{{ID: callID + ":client", CallID: callID, UserID: "client-1", Role: calls.RoleClient, State: calls.ParticipantJoined}}
	for _, id := range staffIDs {
		ps = append(ps, calls.Participant{ID: callID + ":" + id, CallID: callID, UserID: id, Role: calls.RoleStaff, State: calls.ParticipantInvited})
	}
	if err := store.Create(context.Background(), call, ps); err != nil {
		t.Fatalf("seed call: %v", err)
	}
	return call
}

func staffIdentity(userID string) auth.Identity {
	return auth.Identity{UserID: userID, OrgID: "org-1", Role: rbac.RoleStaff, StaffID: userID}
}

func TestAccept_SecondClaimLoses(t *testing.T) {
	svc, store, hub := newService(t)
	seedRinging(t, store, "c1", "staff-1", "staff-2")

	clientConn := &fakeConn{id: "cc"}
	hub.Join(svc.rooms.Client("client-1"), clientConn)

	if _, err := svc.Accept(context.Background(), staffIdentity("staff-1"), "c1"); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	_, err := svc.Accept(context.Background(), staffIdentity("staff-2"), "c1")
	if !errors.Is(err, calls.ErrConflict) {
		t.Fatalf("expected conflict for loser, got %v", err)
	}

	got, _ := store.Get(context.Background(), "c1")
	if got.Status != calls.StatusAccepted || got.AcceptedByUserID != "staff-1" {
		t.Fatalf("unexpected call state: %s by %s", got.Status, got.AcceptedByUserID)
	}

	// The client hears about the pickup exactly once.
	n := 0
	for _, m := range clientConn.sent {
		if m.Event == EventCallAccepted {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected 1 accepted notice, got %d", n)
	}
}

func TestAccept_ClientRoleForbidden(t *testing.T) {
	svc, store, _ := newService(t)
	seedRinging(t, store, "c1", "staff-1")

	_, err := svc.Accept(context.Background(), auth.Identity{UserID: "client-1", OrgID: "org-1", Role: rbac.RoleClient}, "c1")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestDecline_LastCandidateDeclinesCall(t *testing.T) {
	svc, store, hub := newService(t)
	seedRinging(t, store, "c1", "staff-1", "staff-2")

	clientConn := &fakeConn{id: "cc"}
	hub.Join(svc.rooms.Client("client-1"), clientConn)

	call, err := svc.Decline(context.Background(), staffIdentity("staff-1"), "c1", "busy")
	if err != nil {
		t.Fatalf("first decline: %v", err)
	}
	if call.Status != calls.StatusRinging {
		t.Fatalf("call should keep ringing while a candidate remains, got %s", call.Status)
	}
	for _, m := range clientConn.sent {
		if m.Event == EventCallDeclined {
			t.Fatalf("client notified before last candidate declined")
		}
	}

	call, err = svc.Decline(context.Background(), staffIdentity("staff-2"), "c1", "busy")
	if err != nil {
		t.Fatalf("last decline: %v", err)
	}
	if call.Status != calls.StatusDeclined {
		t.Fatalf("expected declined, got %s", call.Status)
	}
	found := false
	for _, m := range clientConn.sent {
		if m.Event == EventCallDeclined {
			found = true
		}
	}
	if !found {
		t.Fatalf("client never received the decline")
	}
}

func TestDecline_NonCandidateForbidden(t *testing.T) {
	svc, store, _ := newService(t)
	seedRinging(t, store, "c1", "staff-1")

	_, err := svc.Decline(context.Background(), staffIdentity("staff-9"), "c1", "")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCancel_CreatorOnlyAndNotAfterAccept(t *testing.T) {
	svc, store, _ := newService(t)
	seedRinging(t, store, "c1", "staff-1")

	_, err := svc.Cancel(context.Background(), auth.Identity{UserID: "someone-else", OrgID: "org-1", Role: rbac.RoleClient}, "c1")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for non-creator, got %v", err)
	}

	if _, err := svc.Accept(context.Background(), staffIdentity("staff-1"), "c1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err = svc.Cancel(context.Background(), auth.Identity{UserID: "client-1", OrgID: "org-1", Role: rbac.RoleClient}, "c1")
	if !errors.Is(err, calls.ErrConflict) {
		t.Fatalf("expected conflict after accept, got %v", err)
	}
}

func TestCancel_BeforePickup(t *testing.T) {
	svc, store, hub := newService(t)
	seedRinging(t, store, "c1", "staff-1")

	orgConn := &fakeConn{id: "oc"}
	hub.Join(svc.rooms.Org("org-1"), orgConn)

	call, err := svc.Cancel(context.Background(), auth.Identity{UserID: "client-1", OrgID: "org-1", Role: rbac.RoleClient}, "c1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if call.Status != calls.StatusCanceled {
		t.Fatalf("expected canceled, got %s", call.Status)
	}
	if call.EndedAt.IsZero() {
		t.Fatalf("expected ended_at set")
	}

	// A late accept must lose.
	_, err = svc.Accept(context.Background(), staffIdentity("staff-1"), "c1")
	if !errors.Is(err, calls.ErrConflict) {
		t.Fatalf("expected conflict after cancel, got %v", err)
	}
}

func TestEnd_RequiresParticipant(t *testing.T) {
	svc, store, _ := newService(t)
	seedRinging(t, store, "c1", "staff-1")
	if _, err := svc.Accept(context.Background(), staffIdentity("staff-1"), "c1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	_, err := svc.End(context.Background(), staffIdentity("staff-9"), "c1")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	call, err := svc.End(context.Background(), staffIdentity("staff-1"), "c1")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if call.Status != calls.StatusEnded {
		t.Fatalf("expected ended, got %s", call.Status)
	}
}

func TestJoinCall_ReplaysOfferThenAnswer(t *testing.T) {
	svc, store, _ := newService(t)
	seedRinging(t, store, "c1", "staff-1")
	if _, err := svc.Accept(context.Background(), staffIdentity("staff-1"), "c1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	ctx := context.Background()
	if err := store.SaveHandshake(ctx, "c1", "offer", "v=0 offer"); err != nil {
		t.Fatalf("save offer: %v", err)
	}
	if err := store.SaveHandshake(ctx, "c1", "answer", "v=0 answer"); err != nil {
		t.Fatalf("save answer: %v", err)
	}

	late := &fakeConn{id: "late", ident: staffIdentity("staff-1")}
	if err := svc.JoinCall(ctx, late, "c1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	var sdps []SDPPayload
	for _, m := range late.sent {
		if m.Event == EventSDP {
			sdps = append(sdps, m.Data.(SDPPayload))
		}
	}
	if len(sdps) != 2 {
		t.Fatalf("expected offer and answer replayed, got %d frames", len(sdps))
	}
	if sdps[0].Type != "offer" || sdps[1].Type != "answer" {
		t.Fatalf("replay out of order: %s then %s", sdps[0].Type, sdps[1].Type)
	}
	if sdps[0].SDP != "v=0 offer" || sdps[1].SDP != "v=0 answer" {
		t.Fatalf("replayed wrong payloads")
	}
}

func TestJoinCall_UnknownCall(t *testing.T) {
	svc, _, _ := newService(t)
	err := svc.JoinCall(context.Background(), &fakeConn{id: "x"}, "nope")
	if !errors.Is(err, calls.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRelaySDP_PersistsAndSkipsSender(t *testing.T) {
	svc, store, hub := newService(t)
	seedRinging(t, store, "c1", "staff-1")
	if _, err := svc.Accept(context.Background(), staffIdentity("staff-1"), "c1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	sender := &fakeConn{id: "s"}
	peer := &fakeConn{id: "p"}
	hub.Join(svc.rooms.Call("c1"), sender)
	hub.Join(svc.rooms.Call("c1"), peer)

	if err := svc.RelaySDP(context.Background(), "s", "c1", "offer", "v=0"); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sender received its own sdp")
	}
	if len(peer.sent) != 1 || peer.sent[0].Event != EventSDP {
		t.Fatalf("peer did not receive sdp: %+v", peer.sent)
	}

	got, _ := store.Get(context.Background(), "c1")
	if got.Metadata.SDPOffer != "v=0" {
		t.Fatalf("offer not persisted")
	}
}

func TestRelaySDP_TerminalCallRejected(t *testing.T) {
	svc, store, _ := newService(t)
	seedRinging(t, store, "c1", "staff-1")
	if _, err := svc.Cancel(context.Background(), auth.Identity{UserID: "client-1", OrgID: "org-1", Role: rbac.RoleClient}, "c1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	err := svc.RelaySDP(context.Background(), "s", "c1", "offer", "v=0")
	if !errors.Is(err, calls.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRingTimeout_MarksMissedAndNotifiesClient(t *testing.T) {
	svc, store, hub := newService(t)
	seedRinging(t, store, "c1", "staff-1")

	clientConn := &fakeConn{id: "cc"}
	hub.Join(svc.rooms.Client("client-1"), clientConn)

	svc.handleRingTimeout("c1")

	got, _ := store.Get(context.Background(), "c1")
	if got.Status != calls.StatusMissed {
		t.Fatalf("expected missed, got %s", got.Status)
	}
	if len(clientConn.sent) != 1 || clientConn.sent[0].Event != EventCallUpdate {
		t.Fatalf("client not notified: %+v", clientConn.sent)
	}
	if u := clientConn.sent[0].Data.(CallUpdate); u.State != string(calls.StatusMissed) {
		t.Fatalf("unexpected state %s", u.State)
	}
}

func TestRingTimeout_NoopWhenAccepted(t *testing.T) {
	svc, store, hub := newService(t)
	seedRinging(t, store, "c1", "staff-1")
	if _, err := svc.Accept(context.Background(), staffIdentity("staff-1"), "c1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	clientConn := &fakeConn{id: "cc"}
	hub.Join(svc.rooms.Client("client-1"), clientConn)

	svc.handleRingTimeout("c1")

	got, _ := store.Get(context.Background(), "c1")
	if got.Status != calls.StatusAccepted {
		t.Fatalf("timeout overwrote accepted call: %s", got.Status)
	}
	if len(clientConn.sent) != 0 {
		t.Fatalf("spurious notification after resolved call")
	}
}

func TestAnnounceRinging_InvitesCandidatesAndArmsTimer(t *testing.T) {
	svc, store, hub := newService(t)
	call := seedRinging(t, store, "c1", "staff-1", "staff-2")

	s1 := &fakeConn{id: "s1"}
	s2 := &fakeConn{id: "s2"}
	hub.Join(svc.rooms.Staff("staff-1"), s1)
	hub.Join(svc.rooms.Staff("staff-2"), s2)

	routed := routing.Routed{
		Call: call,
		Candidates: []availability.Responder{
			{UserID: "staff-1", OrgID: "org-1"},
			{UserID: "staff-2", OrgID: "org-1"},
		},
	}
	svc.AnnounceRinging(context.Background(), routed, auth.Identity{UserID: "client-1", OrgID: "org-1", Role: rbac.RoleClient})

	if len(s1.sent) != 1 || s1.sent[0].Event != EventCallInitiated {
		t.Fatalf("staff-1 not invited: %+v", s1.sent)
	}
	if len(s2.sent) != 1 {
		t.Fatalf("staff-2 not invited")
	}
	if !svc.timers.Armed("c1") {
		t.Fatalf("ring timer not armed")
	}

	if _, err := svc.Accept(context.Background(), staffIdentity("staff-1"), "c1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if svc.timers.Armed("c1") {
		t.Fatalf("timer still armed after accept")
	}
}

func TestAnnounceRinging_MissedDoesNotInvite(t *testing.T) {
	svc, store, hub := newService(t)
	now := time.Now().UTC()
	call := calls.Call{
		ID: "c2", OrgID: "org-1", Status: calls.StatusMissed,
		CreatedByUserID: "client-1", Reason: "no available staff",
		CreatedAt: now, UpdatedAt: now, EndedAt: now,
	}
	if err := store.Create(context.Background(), call, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	orgConn := &fakeConn{id: "oc"}
	hub.Join(svc.rooms.Org("org-1"), orgConn)

	svc.AnnounceRinging(context.Background(), routing.Routed{Call: call, Missed: true}, auth.Identity{UserID: "client-1", OrgID: "org-1"})

	if len(orgConn.sent) != 0 {
		t.Fatalf("missed call should not broadcast invites")
	}
	if svc.timers.Armed("c2") {
		t.Fatalf("timer armed for missed call")
	}
}
