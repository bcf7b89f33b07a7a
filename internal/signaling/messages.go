package signaling

import "encoding/json"

// Message is one realtime frame in either direction: an event name plus a
// JSON payload.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Inbound (client -> server) events.
const (
	EventJoinCall = "join:call"
	EventAccept   = "call:accept"
	EventDecline  = "call:decline"
	EventSDP      = "call:sdp"
	EventICE      = "call:ice"
)

// Outbound (server -> client) events. EventSDP and EventICE are symmetric.
const (
	EventCallInitiated = "call.initiated"
	EventCallAccepted  = "call.accepted"
	EventCallDeclined  = "call.declined"
	EventCallCanceled  = "call.canceled"
	EventCallEnded     = "call.ended"
	EventCallUpdate    = "call:update"
	EventError         = "error"
)

// Inbound payloads. Data arrives as raw JSON and is decoded per event.

type JoinCallPayload struct {
	CallID string `json:"callId"`
}

type AcceptPayload struct {
	CallID string `json:"callId"`
}

type DeclinePayload struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

type SDPPayload struct {
	CallID string `json:"callId"`
	Type   string `json:"type"` // "offer" or "answer"
	SDP    string `json:"sdp"`
}

type ICEPayload struct {
	CallID    string          `json:"callId"`
	Candidate json.RawMessage `json:"candidate"`
}

// Outbound payloads.

type CallInvite struct {
	CallID    string     `json:"callId"`
	Client    ClientInfo `json:"client"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt int64      `json:"createdAt"`
}

type ClientInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type StaffInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CallUpdate struct {
	CallID  string `json:"callId"`
	State   string `json:"state"`
	StaffID string `json:"staffId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type AcceptedNotice struct {
	CallID string    `json:"callId"`
	Staff  StaffInfo `json:"staff"`
}

type DeclinedNotice struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

type CallRef struct {
	CallID string `json:"callId"`
}

type ErrorNotice struct {
	CallID string `json:"callId,omitempty"`
	Error  string `json:"error"`
}
