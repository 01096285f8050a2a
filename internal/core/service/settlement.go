package service

import (
	"context"
	"time"

	"github.com/auraline/readings/internal/core/domain"
	"github.com/auraline/readings/internal/core/port"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// Settlement finalizes ended sessions: computes the final charge and split,
// applies it to the wallet ledger, writes the one durable record, notifies
// both parties and releases their busy flags. It is only ever invoked by the
// session store, at most once per session.
type Settlement struct {
	wallet        port.WalletLedger
	store         port.SettlementStore
	presence      *Presence
	walletTimeout time.Duration
}

func NewSettlement(wallet port.WalletLedger, store port.SettlementStore, presence *Presence, walletTimeout time.Duration) *Settlement {
	return &Settlement{
		wallet:        wallet,
		store:         store,
		presence:      presence,
		walletTimeout: walletTimeout,
	}
}

// Settle closes the books for one session. debitedCents is what the billing
// ticks already collected; only the difference to the final cost is debited
// here. Ledger failures degrade to a shortfall-flagged record and an
// ErrSettlementShortfall return; they never block closure.
func (e *Settlement) Settle(ctx context.Context, s *domain.Session, totalSeconds, debitedCents int64) (domain.SettlementRecord, error) {
	rec := domain.Settle(s, totalSeconds)
	rec.RecordID = ulid.Make().String()

	l := log.With().
		Str("session_id", s.ID.String()).
		Int64("total_seconds", rec.TotalSeconds).
		Int64("total_cost_cents", rec.TotalCostCents).
		Str("end_reason", string(rec.EndReason)).
		Logger()

	if remainder := rec.TotalCostCents - debitedCents; remainder > 0 {
		wctx, cancel := context.WithTimeout(ctx, e.walletTimeout)
		err := e.wallet.ReserveOrDebit(wctx, s.PayerID, remainder)
		cancel()
		if err != nil {
			rec.Shortfall = true
			l.Warn().Err(err).Int64("remainder_cents", remainder).Msg("settlement debit failed, flagging shortfall")
		}
	}

	if rec.HostEarnedCents > 0 {
		wctx, cancel := context.WithTimeout(ctx, e.walletTimeout)
		err := e.wallet.Credit(wctx, s.HostID, rec.HostEarnedCents)
		cancel()
		if err != nil {
			rec.Shortfall = true
			l.Error().Err(err).Msg("host credit failed, flagging shortfall")
		}
	}

	if err := e.store.Append(ctx, rec); err != nil {
		l.Error().Err(err).Msg("settlement record append failed")
	}

	host, payer := s.Host(), s.Payer()
	if err := e.presence.Send(host, domain.NewSessionEndedEvent(rec, true)); err != nil {
		l.Debug().Msg("host unreachable for session_ended")
	}
	if err := e.presence.Send(payer, domain.NewSessionEndedEvent(rec, false)); err != nil {
		l.Debug().Msg("payer unreachable for session_ended")
	}
	e.presence.SetBusy(host, false)
	e.presence.SetBusy(payer, false)

	l.Info().Int64("host_earned_cents", rec.HostEarnedCents).Msg("session settled")
	if rec.Shortfall {
		return rec, domain.ErrSettlementShortfall
	}
	return rec, nil
}
