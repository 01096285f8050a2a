package domain

import (
	"encoding/json"
)

type EventType string

const (
	// payer -> core
	EventSessionRequest EventType = "session_request"
	// host -> core
	EventSessionAccept EventType = "session_accept"
	EventSessionReject EventType = "session_reject"
	// either -> core, relayed verbatim to the counterpart
	EventNegotiationOffer     EventType = "negotiation_offer"
	EventNegotiationAnswer    EventType = "negotiation_answer"
	EventNegotiationCandidate EventType = "negotiation_candidate"
	EventChatMessage          EventType = "chat_message"
	// either -> core
	EventSessionStop EventType = "session_stop"
	// core -> parties
	EventSessionRequested EventType = "session_requested"
	EventCostUpdate       EventType = "cost_update"
	EventSessionEnded     EventType = "session_ended"
	EventError            EventType = "error"
)

// Relayable reports whether an event type follows the opaque relay path.
func (t EventType) Relayable() bool {
	switch t {
	case EventNegotiationOffer, EventNegotiationAnswer, EventNegotiationCandidate, EventChatMessage:
		return true
	}
	return false
}

// IdentityRef is the wire form of an Identity.
type IdentityRef struct {
	Role   string `json:"role"`
	UserID string `json:"user_id"`
}

func RefOf(i Identity) IdentityRef {
	return IdentityRef{Role: string(i.Role), UserID: i.UserID.String()}
}

// Envelope is the single message frame exchanged over a party connection.
// Payload stays opaque to the core for relayed kinds.
type Envelope struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	From      *IdentityRef    `json:"from,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type SessionRequestedPayload struct {
	PayerID            string `json:"payer_id"`
	Kind               string `json:"kind"`
	RatePerMinuteCents int64  `json:"rate_per_minute_cents"`
}

type CostUpdatePayload struct {
	BilledSeconds    int64 `json:"billed_seconds"`
	AccruedCostCents int64 `json:"accrued_cost_cents"`
}

type SessionEndedPayload struct {
	TotalSeconds    int64  `json:"total_seconds"`
	TotalCostCents  int64  `json:"total_cost_cents"`
	HostEarnedCents *int64 `json:"host_earned_cents,omitempty"`
	EndReason       string `json:"end_reason"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mustEnvelope(t EventType, sessionID string, payload any) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		// payload structs above are always marshalable
		panic(err)
	}
	return Envelope{Type: t, SessionID: sessionID, Payload: raw}
}

func NewSessionRequestedEvent(s *Session) Envelope {
	return mustEnvelope(EventSessionRequested, s.ID.String(), SessionRequestedPayload{
		PayerID:            s.PayerID.String(),
		Kind:               string(s.Kind),
		RatePerMinuteCents: s.RatePerMinuteCents,
	})
}

func NewCostUpdateEvent(s *Session) Envelope {
	return mustEnvelope(EventCostUpdate, s.ID.String(), CostUpdatePayload{
		BilledSeconds:    s.BilledSeconds,
		AccruedCostCents: s.AccruedCostCents,
	})
}

// NewSessionEndedEvent carries the final server-computed duration and cost.
// Host earnings are only disclosed to the host.
func NewSessionEndedEvent(rec SettlementRecord, forHost bool) Envelope {
	p := SessionEndedPayload{
		TotalSeconds:   rec.TotalSeconds,
		TotalCostCents: rec.TotalCostCents,
		EndReason:      string(rec.EndReason),
	}
	if forHost {
		earned := rec.HostEarnedCents
		p.HostEarnedCents = &earned
	}
	return mustEnvelope(EventSessionEnded, rec.SessionID.String(), p)
}

func NewErrorEvent(sessionID string, err error) Envelope {
	return mustEnvelope(EventError, sessionID, ErrorPayload{
		Code:    ErrorCode(err),
		Message: err.Error(),
	})
}

// NewRelayEvent re-frames an inbound payload for the counterpart, verbatim,
// tagged with the sender identity and session id.
func NewRelayEvent(t EventType, sessionID SessionID, from Identity, payload json.RawMessage) Envelope {
	ref := RefOf(from)
	return Envelope{
		Type:      t,
		SessionID: sessionID.String(),
		From:      &ref,
		Payload:   payload,
	}
}

// Accept/reject outcomes are forwarded to the payer with the session id only.
func NewSessionAcceptEvent(id SessionID) Envelope {
	return Envelope{Type: EventSessionAccept, SessionID: id.String()}
}

func NewSessionRejectEvent(id SessionID) Envelope {
	return Envelope{Type: EventSessionReject, SessionID: id.String()}
}
