package domain

import (
	"time"
)

// The platform keeps 30% of every reading; the host earns the rest.
const hostSharePercent = 70

// SplitCost divides a total between host and platform. The platform share is
// always the remainder so the two sum to the total exactly.
func SplitCost(totalCostCents int64) (hostCents, platformCents int64) {
	hostCents = (totalCostCents*hostSharePercent + 50) / 100
	platformCents = totalCostCents - hostCents
	return hostCents, platformCents
}

// SettlementRecord is the durable, immutable outcome of one session. Written
// exactly once when the session ends; RecordID is a sortable unique id
// assigned at settlement time.
type SettlementRecord struct {
	RecordID            string
	SessionID           SessionID
	HostID              UserID
	PayerID             UserID
	Kind                SessionKind
	StartedAt           time.Time
	EndedAt             time.Time
	TotalSeconds        int64
	TotalCostCents      int64
	HostEarnedCents     int64
	PlatformEarnedCents int64
	EndReason           EndReason
	Shortfall           bool
}

// Settle computes the final charge for an ended session. totalSeconds is
// server-measured wall clock, never client-reported.
func Settle(s *Session, totalSeconds int64) SettlementRecord {
	total := CostCents(totalSeconds, s.RatePerMinuteCents)
	host, platform := SplitCost(total)
	return SettlementRecord{
		SessionID:           s.ID,
		HostID:              s.HostID,
		PayerID:             s.PayerID,
		Kind:                s.Kind,
		StartedAt:           s.StartedAt,
		EndedAt:             s.EndedAt,
		TotalSeconds:        totalSeconds,
		TotalCostCents:      total,
		HostEarnedCents:     host,
		PlatformEarnedCents: platform,
		EndReason:           s.EndReason,
	}
}
