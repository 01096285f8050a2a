package domain

import (
	"time"
)

type SessionKind string

const (
	KindChat  SessionKind = "chat"
	KindVoice SessionKind = "voice"
	KindVideo SessionKind = "video"
)

func ParseSessionKind(s string) (SessionKind, error) {
	switch SessionKind(s) {
	case KindChat, KindVoice, KindVideo:
		return SessionKind(s), nil
	}
	return "", ErrUnknownKind
}

type SessionState string

const (
	StatePending  SessionState = "pending"
	StateActive   SessionState = "active"
	StateRejected SessionState = "rejected"
	StateEnded    SessionState = "ended"
)

type EndReason string

const (
	ReasonCompleted                EndReason = "completed"
	ReasonPeerDisconnected         EndReason = "peer_disconnected"
	ReasonInsufficientFunds        EndReason = "insufficient_funds"
	ReasonInsufficientFundsAtStart EndReason = "insufficient_funds_at_start"
)

// Session is the unit of orchestration: one billed reading between exactly
// one host and one payer. All money fields are minor currency units (cents).
type Session struct {
	ID                 SessionID
	HostID             UserID
	PayerID            UserID
	Kind               SessionKind
	State              SessionState
	RatePerMinuteCents int64
	StartedAt          time.Time
	LastBillTickAt     time.Time
	TickSeq            uint64
	BilledSeconds      int64
	AccruedCostCents   int64
	EndedAt            time.Time
	EndReason          EndReason
}

func NewSession(payerID, hostID UserID, kind SessionKind, ratePerMinuteCents int64) *Session {
	return &Session{
		ID:                 NewSessionID(),
		HostID:             hostID,
		PayerID:            payerID,
		Kind:               kind,
		State:              StatePending,
		RatePerMinuteCents: ratePerMinuteCents,
	}
}

func (s *Session) Host() Identity  { return Identity{Role: RoleHost, UserID: s.HostID} }
func (s *Session) Payer() Identity { return Identity{Role: RolePayer, UserID: s.PayerID} }

// Counterpart returns the other side of the session for a given sender.
func (s *Session) Counterpart(from Identity) (Identity, error) {
	switch {
	case from.Role == RoleHost && from.UserID == s.HostID:
		return s.Payer(), nil
	case from.Role == RolePayer && from.UserID == s.PayerID:
		return s.Host(), nil
	}
	return Identity{}, ErrNotFound
}

func (s *Session) Terminal() bool {
	return s.State == StateEnded || s.State == StateRejected
}

// BillableMinutes rounds elapsed seconds up to whole minutes. Any started
// minute is fully chargeable, platform-wide.
func BillableMinutes(elapsedSeconds int64) int64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	return (elapsedSeconds + 59) / 60
}

// CostCents computes the charge for an elapsed duration at a per-minute rate.
func CostCents(elapsedSeconds, ratePerMinuteCents int64) int64 {
	return BillableMinutes(elapsedSeconds) * ratePerMinuteCents
}

// BillingTick is one unit of metering work. Ticks are ephemeral; only their
// effect on the session's billed counters is kept.
type BillingTick struct {
	SessionID      SessionID
	Sequence       uint64
	ElapsedSeconds int64
	CostDeltaCents int64
}
