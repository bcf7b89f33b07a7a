package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newRingingCall(t *testing.T, s *MemoryStore, id string) Call {
	t.Helper()
	now := time.Now().UTC()
	call := Call{
		ID:              id,
		OrgID:           "org-1",
		Status:          StatusRinging,
		CreatedByUserID: "client-1",
		CreatedAt:       now,
		UpdatedAt:       now,
		RingExpiresAt:   now.Add(45 * time.Second),
	}
	ps := []Participant{
		{ID: id + "-p0", CallID: id, UserID: "client-1", Role: RoleClient, State: ParticipantInvited},
		{ID: id + "-p1", CallID: id, UserID: "staff-1", Role: RoleStaff, State: ParticipantInvited},
		{ID: id + "-p2", CallID: id, UserID: "staff-2", Role: RoleStaff, State: ParticipantInvited},
	}
	if err := s.Create(context.Background(), call, ps); err != nil {
		t.Fatalf("create: %v", err)
	}
	return call
}

func TestCreate_DuplicateIDConflicts(t *testing.T) {
	s := NewMemoryStore()
	newRingingCall(t, s, "c1")

	err := s.Create(context.Background(), Call{ID: "c1", OrgID: "org-1", Status: StatusRinging}, nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGet_MissingIsNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAcceptCAS_AtMostOneWinner(t *testing.T) {
	s := NewMemoryStore()
	newRingingCall(t, s, "c1")

	const racers = 16
	var wg sync.WaitGroup
	results := make([]bool, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.AcceptCAS(context.Background(), "c1", fmt.Sprintf("staff-%d", i))
			if err != nil {
				t.Errorf("accept: %v", err)
				return
			}
			results[i] = ok
		}(i)
	}
	wg.Wait()

	winners := 0
	winner := -1
	for i, ok := range results {
		if ok {
			winners++
			winner = i
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}

	c, err := s.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", c.Status)
	}
	if c.AcceptedByUserID != fmt.Sprintf("staff-%d", winner) {
		t.Fatalf("accepted_by mismatch: %s vs winner %d", c.AcceptedByUserID, winner)
	}
}

func TestAcceptCAS_FailsOnTerminalWithoutError(t *testing.T) {
	s := NewMemoryStore()
	newRingingCall(t, s, "c1")

	if _, err := s.UpdateStatus(context.Background(), "c1", StatusCanceled, StatusPatch{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	ok, err := s.AcceptCAS(context.Background(), "c1", "staff-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatalf("accept must fail on canceled call")
	}
	c, _ := s.Get(context.Background(), "c1")
	if c.AcceptedByUserID != "" {
		t.Fatalf("accepted_by must stay empty, got %q", c.AcceptedByUserID)
	}
}

func TestUpdateStatus_TerminalGuard(t *testing.T) {
	s := NewMemoryStore()
	newRingingCall(t, s, "c1")

	if _, err := s.UpdateStatus(context.Background(), "c1", StatusMissed, StatusPatch{Reason: "ring timeout"}); err != nil {
		t.Fatalf("missed: %v", err)
	}

	for _, to := range []CallStatus{StatusAccepted, StatusDeclined, StatusCanceled, StatusEnded} {
		if _, err := s.UpdateStatus(context.Background(), "c1", to, StatusPatch{}); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict for missed -> %s, got %v", to, err)
		}
	}
	c, _ := s.Get(context.Background(), "c1")
	if c.Status != StatusMissed || c.Reason != "ring timeout" {
		t.Fatalf("state changed after rejected transitions: %+v", c)
	}
}

func TestUpdateStatus_EndRequiresAccepted(t *testing.T) {
	s := NewMemoryStore()
	newRingingCall(t, s, "c1")

	if _, err := s.UpdateStatus(context.Background(), "c1", StatusEnded, StatusPatch{}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict ending a ringing call, got %v", err)
	}

	if ok, _ := s.AcceptCAS(context.Background(), "c1", "staff-1"); !ok {
		t.Fatalf("accept failed")
	}
	ended := time.Now().UTC()
	c, err := s.UpdateStatus(context.Background(), "c1", StatusEnded, StatusPatch{EndedAt: ended})
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if !c.EndedAt.Equal(ended) {
		t.Fatalf("ended_at not applied")
	}
}

func TestSaveHandshake_StoresOfferAndAnswer(t *testing.T) {
	s := NewMemoryStore()
	newRingingCall(t, s, "c1")

	if err := s.SaveHandshake(context.Background(), "c1", "offer", "o="); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if err := s.SaveHandshake(context.Background(), "c1", "answer", "a="); err != nil {
		t.Fatalf("answer: %v", err)
	}
	c, _ := s.Get(context.Background(), "c1")
	if c.Metadata.SDPOffer != "o=" || c.Metadata.SDPAnswer != "a=" {
		t.Fatalf("handshake not stored: %+v", c.Metadata)
	}
}

func TestSetParticipantState(t *testing.T) {
	s := NewMemoryStore()
	newRingingCall(t, s, "c1")

	if err := s.SetParticipantState(context.Background(), "c1", "staff-1", ParticipantDeclined); err != nil {
		t.Fatalf("set state: %v", err)
	}
	ps, _ := s.GetParticipants(context.Background(), "c1")
	found := false
	for _, p := range ps {
		if p.UserID == "staff-1" && p.State == ParticipantDeclined {
			found = true
		}
	}
	if !found {
		t.Fatalf("participant state not updated: %+v", ps)
	}

	if err := s.SetParticipantState(context.Background(), "c1", "ghost", ParticipantJoined); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
