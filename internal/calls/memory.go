package calls

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps calls in process memory. It is the default backend for
// single-instance deployments and the fixture for tests.
//
// One mutex guards all state; the accept path is synchronous and effectively
// instantaneous, which satisfies the CAS contract without per-call locks.
type MemoryStore struct {
	mu           sync.Mutex
	calls        map[string]*Call
	participants map[string][]Participant
	clock        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:        make(map[string]*Call),
		participants: make(map[string][]Participant),
		clock:        time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, call Call, participants []Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calls[call.ID]; ok {
		return fmt.Errorf("create %s: %w", call.ID, ErrConflict)
	}
	c := call
	s.calls[call.ID] = &c
	s.participants[call.ID] = append([]Participant(nil), participants...)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, callID string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[callID]
	if !ok {
		return Call{}, fmt.Errorf("get %s: %w", callID, ErrNotFound)
	}
	return *c, nil
}

func (s *MemoryStore) GetParticipants(ctx context.Context, callID string) ([]Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calls[callID]; !ok {
		return nil, fmt.Errorf("participants %s: %w", callID, ErrNotFound)
	}
	return append([]Participant(nil), s.participants[callID]...), nil
}

func (s *MemoryStore) AcceptCAS(ctx context.Context, callID, staffID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[callID]
	if !ok {
		return false, fmt.Errorf("accept %s: %w", callID, ErrNotFound)
	}
	if c.Status != StatusRinging {
		// Lost race or wrong state; normal outcome, no mutation.
		return false, nil
	}
	c.Status = StatusAccepted
	c.AcceptedByUserID = staffID
	c.UpdatedAt = s.clock().UTC()
	return true, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, callID string, status CallStatus, patch StatusPatch) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[callID]
	if !ok {
		return Call{}, fmt.Errorf("update %s: %w", callID, ErrNotFound)
	}
	if !CanTransition(c.Status, status) {
		return Call{}, fmt.Errorf("update %s: %s -> %s: %w", callID, c.Status, status, ErrConflict)
	}
	c.Status = status
	c.UpdatedAt = s.clock().UTC()
	if patch.Reason != "" {
		c.Reason = patch.Reason
	}
	if !patch.EndedAt.IsZero() {
		c.EndedAt = patch.EndedAt
	}
	return *c, nil
}

func (s *MemoryStore) SetParticipantState(ctx context.Context, callID, userID string, state ParticipantState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.participants[callID]
	if !ok {
		return fmt.Errorf("participant %s: %w", callID, ErrNotFound)
	}
	for i := range ps {
		if ps[i].UserID == userID {
			ps[i].State = state
			return nil
		}
	}
	return fmt.Errorf("participant %s/%s: %w", callID, userID, ErrNotFound)
}

func (s *MemoryStore) SaveHandshake(ctx context.Context, callID, kind, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[callID]
	if !ok {
		return fmt.Errorf("handshake %s: %w", callID, ErrNotFound)
	}
	switch kind {
	case "offer":
		c.Metadata.SDPOffer = sdp
	case "answer":
		c.Metadata.SDPAnswer = sdp
	default:
		return fmt.Errorf("handshake %s: unknown kind %q", callID, kind)
	}
	c.UpdatedAt = s.clock().UTC()
	return nil
}

func (s *MemoryStore) ListByOrg(ctx context.Context, orgID string, from, to time.Time) ([]Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Call
	for _, c := range s.calls {
		if c.OrgID != orgID {
			continue
		}
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
