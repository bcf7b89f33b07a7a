package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callbridge/internal/audit"
	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/rbac"
	"callbridge/internal/routing"
)

// ErrForbidden is returned when the actor lacks the role or identity to
// perform a call action.
var ErrForbidden = errors.New("signaling: forbidden")

// Service is the signaling relay: it consumes call lifecycle and handshake
// messages from either party, updates the call store, and re-broadcasts to
// the appropriate rooms.
//
// All mutations for one call are funneled through a per-call lock before
// broadcasting, so delivery order within a call room matches the order the
// store accepted the operations.
type Service struct {
	store  calls.Store
	hub    *Hub
	rooms  Rooms
	timers *Supervisor
	audit  *audit.Service
	caps   routing.CapacityLimiter

	ringTimeout time.Duration
	log         *slog.Logger
	now         func() time.Time

	locks sync.Map // callID -> *sync.Mutex
}

func NewService(store calls.Store, hub *Hub, rooms Rooms, timers *Supervisor, auditSvc *audit.Service, caps routing.CapacityLimiter, ringTimeout time.Duration, log *slog.Logger) *Service {
	if caps == nil {
		caps = routing.NoopLimiter{}
	}
	return &Service{
		store:       store,
		hub:         hub,
		rooms:       rooms,
		timers:      timers,
		audit:       auditSvc,
		caps:        caps,
		ringTimeout: ringTimeout,
		log:         log,
		now:         time.Now,
	}
}

func (s *Service) lockCall(callID string) func() {
	v, _ := s.locks.LoadOrStore(callID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func staffIDOf(id auth.Identity) string {
	if id.StaffID != "" {
		return id.StaffID
	}
	return id.UserID
}

// AnnounceRinging broadcasts invites for a freshly routed call and arms the
// ring timer. For a call the router already missed it only records history;
// no invite is broadcast and no timer armed.
func (s *Service) AnnounceRinging(ctx context.Context, routed routing.Routed, requester auth.Identity) {
	call := routed.Call

	if routed.Missed {
		s.record(ctx, audit.EventCallMissed, call, requester, call.Reason)
		return
	}

	s.record(ctx, audit.EventCallInitiated, call, requester, call.Reason)

	invite := Message{Event: EventCallInitiated, Data: CallInvite{
		CallID:    call.ID,
		Client:    ClientInfo{ID: call.CreatedByUserID, Name: requester.UserID},
		Reason:    call.Reason,
		CreatedAt: call.CreatedAt.UnixMilli(),
	}}
	for _, cand := range routed.Candidates {
		s.hub.Broadcast(s.rooms.Staff(cand.UserID), invite)
	}
	s.hub.Broadcast(s.rooms.Org(call.OrgID), invite)

	s.timers.Arm(call.ID, time.Until(call.RingExpiresAt), func() {
		s.handleRingTimeout(call.ID)
	})
}

// Accept performs the CAS claim for a staff member. Exactly one concurrent
// caller wins; the rest get calls.ErrConflict.
func (s *Service) Accept(ctx context.Context, id auth.Identity, callID string) (calls.Call, error) {
	if id.Role != rbac.RoleStaff {
		return calls.Call{}, fmt.Errorf("accept %s: only staff can accept: %w", callID, ErrForbidden)
	}
	staffID := staffIDOf(id)

	unlock := s.lockCall(callID)
	defer unlock()

	won, err := s.store.AcceptCAS(ctx, callID, staffID)
	if err != nil {
		return calls.Call{}, err
	}
	if !won {
		// Normal outcome under contention; reply to the caller only.
		return calls.Call{}, fmt.Errorf("accept %s: already accepted or not ringing: %w", callID, calls.ErrConflict)
	}

	s.timers.Disarm(callID)

	call, err := s.store.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if err := s.caps.Release(ctx, call.OrgID); err != nil {
		s.log.Warn("capacity release failed", "call_id", callID, "err", err)
	}
	if err := s.store.SetParticipantState(ctx, callID, staffID, calls.ParticipantJoined); err != nil {
		s.log.Warn("participant update failed", "call_id", callID, "err", err)
	}
	s.record(ctx, audit.EventCallAccepted, call, id, "")

	accepted := Message{Event: EventCallAccepted, Data: AcceptedNotice{
		CallID: callID,
		Staff:  StaffInfo{ID: staffID, Name: id.UserID},
	}}
	// The client learns its call was picked up; the org-wide room lets the
	// losing candidates' invite popups auto-dismiss.
	s.hub.Broadcast(s.rooms.Client(call.CreatedByUserID), accepted)
	s.hub.Broadcast(s.rooms.Org(call.OrgID), accepted)
	s.hub.Broadcast(s.rooms.Call(callID), Message{Event: EventCallUpdate, Data: CallUpdate{
		CallID:  callID,
		State:   string(calls.StatusAccepted),
		StaffID: staffID,
	}})

	return call, nil
}

// Decline removes one candidate from a ringing call. The call itself only
// transitions to declined when the last pending candidate declines; other
// candidates keep ringing.
func (s *Service) Decline(ctx context.Context, id auth.Identity, callID, reason string) (calls.Call, error) {
	if id.Role != rbac.RoleStaff {
		return calls.Call{}, fmt.Errorf("decline %s: only staff can decline: %w", callID, ErrForbidden)
	}
	staffID := staffIDOf(id)

	unlock := s.lockCall(callID)
	defer unlock()

	call, err := s.store.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if call.Status != calls.StatusRinging && call.Status != calls.StatusInitiated {
		return calls.Call{}, fmt.Errorf("decline %s: call is %s: %w", callID, call.Status, calls.ErrConflict)
	}

	participants, err := s.store.GetParticipants(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	var mine *calls.Participant
	pending := 0
	for i := range participants {
		p := participants[i]
		if p.Role != calls.RoleStaff {
			continue
		}
		if p.UserID == staffID {
			mine = &participants[i]
			continue
		}
		if p.State == calls.ParticipantInvited {
			pending++
		}
	}
	if mine == nil {
		return calls.Call{}, fmt.Errorf("decline %s: not a candidate: %w", callID, ErrForbidden)
	}

	if err := s.store.SetParticipantState(ctx, callID, staffID, calls.ParticipantDeclined); err != nil {
		return calls.Call{}, err
	}

	if pending > 0 {
		// Others still ringing; no call-level transition.
		return call, nil
	}

	call, err = s.store.UpdateStatus(ctx, callID, calls.StatusDeclined, calls.StatusPatch{
		Reason:  reason,
		EndedAt: s.now().UTC(),
	})
	if err != nil {
		return calls.Call{}, err
	}

	s.timers.Disarm(callID)
	if err := s.caps.Release(ctx, call.OrgID); err != nil {
		s.log.Warn("capacity release failed", "call_id", callID, "err", err)
	}
	s.record(ctx, audit.EventCallDeclined, call, id, reason)

	s.hub.Broadcast(s.rooms.Client(call.CreatedByUserID), Message{Event: EventCallDeclined, Data: DeclinedNotice{
		CallID: callID,
		Reason: reason,
	}})
	s.hub.Broadcast(s.rooms.Call(callID), Message{Event: EventCallUpdate, Data: CallUpdate{
		CallID: callID,
		State:  string(calls.StatusDeclined),
		Reason: reason,
	}})

	return call, nil
}

// Cancel lets the requester withdraw a call that nobody accepted yet.
func (s *Service) Cancel(ctx context.Context, id auth.Identity, callID string) (calls.Call, error) {
	unlock := s.lockCall(callID)
	defer unlock()

	call, err := s.store.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if call.CreatedByUserID != id.UserID {
		return calls.Call{}, fmt.Errorf("cancel %s: only the creator can cancel: %w", callID, ErrForbidden)
	}

	call, err = s.store.UpdateStatus(ctx, callID, calls.StatusCanceled, calls.StatusPatch{
		EndedAt: s.now().UTC(),
	})
	if err != nil {
		return calls.Call{}, err
	}

	s.timers.Disarm(callID)
	if err := s.caps.Release(ctx, call.OrgID); err != nil {
		s.log.Warn("capacity release failed", "call_id", callID, "err", err)
	}
	s.record(ctx, audit.EventCallCanceled, call, id, "")

	s.hub.Broadcast(s.rooms.Org(call.OrgID), Message{Event: EventCallCanceled, Data: CallRef{CallID: callID}})
	s.hub.Broadcast(s.rooms.Call(callID), Message{Event: EventCallUpdate, Data: CallUpdate{
		CallID: callID,
		State:  string(calls.StatusCanceled),
	}})

	return call, nil
}

// End terminates an accepted call. Either bound party may end it.
func (s *Service) End(ctx context.Context, id auth.Identity, callID string) (calls.Call, error) {
	unlock := s.lockCall(callID)
	defer unlock()

	call, err := s.store.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	actor := id.UserID
	if call.CreatedByUserID != actor && call.AcceptedByUserID != actor && call.AcceptedByUserID != staffIDOf(id) {
		return calls.Call{}, fmt.Errorf("end %s: not a participant: %w", callID, ErrForbidden)
	}

	call, err = s.store.UpdateStatus(ctx, callID, calls.StatusEnded, calls.StatusPatch{
		EndedAt: s.now().UTC(),
	})
	if err != nil {
		return calls.Call{}, err
	}

	s.record(ctx, audit.EventCallEnded, call, id, "")

	s.hub.Broadcast(s.rooms.Call(callID), Message{Event: EventCallUpdate, Data: CallUpdate{
		CallID: callID,
		State:  string(calls.StatusEnded),
	}})
	s.hub.Broadcast(s.rooms.Client(call.CreatedByUserID), Message{Event: EventCallEnded, Data: CallRef{CallID: callID}})

	return call, nil
}

// JoinCall attaches a connection to the call room and replays the current
// state to that connection only. A reconnecting party that missed the live
// handshake receives the stored offer and answer, offer first, without
// either original sender resending.
func (s *Service) JoinCall(ctx context.Context, conn Conn, callID string) error {
	unlock := s.lockCall(callID)
	defer unlock()

	call, err := s.store.Get(ctx, callID)
	if err != nil {
		return err
	}

	s.hub.Join(s.rooms.Call(callID), conn)

	conn.Send(Message{Event: EventCallUpdate, Data: CallUpdate{
		CallID:  callID,
		State:   string(call.Status),
		StaffID: call.AcceptedByUserID,
	}})

	if call.Status == calls.StatusAccepted {
		if call.Metadata.SDPOffer != "" {
			conn.Send(Message{Event: EventSDP, Data: SDPPayload{CallID: callID, Type: "offer", SDP: call.Metadata.SDPOffer}})
		}
		if call.Metadata.SDPAnswer != "" {
			conn.Send(Message{Event: EventSDP, Data: SDPPayload{CallID: callID, Type: "answer", SDP: call.Metadata.SDPAnswer}})
		}
	}
	return nil
}

// RelaySDP persists the handshake payload for replay and fans it out to the
// other members of the call room.
func (s *Service) RelaySDP(ctx context.Context, senderConnID, callID, typ, sdp string) error {
	if typ != "offer" && typ != "answer" {
		return fmt.Errorf("sdp %s: invalid type %q", callID, typ)
	}

	unlock := s.lockCall(callID)
	defer unlock()

	call, err := s.store.Get(ctx, callID)
	if err != nil {
		return err
	}
	if call.Status.IsTerminal() {
		return fmt.Errorf("sdp %s: call is %s: %w", callID, call.Status, calls.ErrConflict)
	}

	if err := s.store.SaveHandshake(ctx, callID, typ, sdp); err != nil {
		return err
	}

	s.hub.BroadcastExcept(s.rooms.Call(callID), senderConnID, Message{Event: EventSDP, Data: SDPPayload{
		CallID: callID,
		Type:   typ,
		SDP:    sdp,
	}})
	return nil
}

// RelayICE fans a candidate out to the other members of the call room.
// Candidates are ephemeral and numerous; they are never persisted.
func (s *Service) RelayICE(ctx context.Context, senderConnID, callID string, candidate json.RawMessage) error {
	unlock := s.lockCall(callID)
	defer unlock()

	call, err := s.store.Get(ctx, callID)
	if err != nil {
		return err
	}
	if call.Status.IsTerminal() {
		return fmt.Errorf("ice %s: call is %s: %w", callID, call.Status, calls.ErrConflict)
	}

	s.hub.BroadcastExcept(s.rooms.Call(callID), senderConnID, Message{Event: EventICE, Data: ICEPayload{
		CallID:    callID,
		Candidate: candidate,
	}})
	return nil
}

// handleRingTimeout fires when a ring timer expires. If the call already
// resolved the guarded update rejects and this is a no-op.
func (s *Service) handleRingTimeout(callID string) {
	ctx := context.Background()

	unlock := s.lockCall(callID)
	defer unlock()

	call, err := s.store.UpdateStatus(ctx, callID, calls.StatusMissed, calls.StatusPatch{
		EndedAt: s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, calls.ErrConflict) || errors.Is(err, calls.ErrNotFound) {
			s.log.Debug("ring timer fired on resolved call", "call_id", callID)
			return
		}
		s.log.Error("ring timeout transition failed", "call_id", callID, "err", err)
		return
	}

	if err := s.caps.Release(ctx, call.OrgID); err != nil {
		s.log.Warn("capacity release failed", "call_id", callID, "err", err)
	}
	s.record(ctx, audit.EventCallMissed, call, auth.Identity{}, "ring timeout")

	update := Message{Event: EventCallUpdate, Data: CallUpdate{
		CallID: callID,
		State:  string(calls.StatusMissed),
	}}
	s.hub.Broadcast(s.rooms.Client(call.CreatedByUserID), update)
	s.hub.Broadcast(s.rooms.Call(callID), update)
	// Dismiss any still-open invite popups.
	s.hub.Broadcast(s.rooms.Org(call.OrgID), update)
}

// record appends to the lifecycle trail; failures are logged, never surfaced.
func (s *Service) record(ctx context.Context, typ audit.EventType, call calls.Call, actor auth.Identity, message string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordTransition(ctx, typ, call.OrgID, call.ID, actor.UserID, actor.Role, message); err != nil {
		s.log.Warn("audit append failed", "call_id", call.ID, "type", string(typ), "err", err)
	}
}
