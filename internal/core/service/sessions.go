package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/auraline/readings/internal/core/domain"
	"github.com/auraline/readings/internal/core/port"
	"github.com/rs/zerolog/log"
)

// billingScheduler is the billing engine's working set. Remove is the
// synchronous cancellation path for ended sessions.
type billingScheduler interface {
	Add(id domain.SessionID)
	Remove(id domain.SessionID)
}

// sessionEntry serializes all transitions of one session. A billing tick and
// a disconnect-triggered force-end may race; the entry lock plus the state
// check make the loser a no-op.
type sessionEntry struct {
	mu sync.Mutex
	s  *domain.Session
}

// Sessions is the authoritative in-process session table and state machine.
// The table lock only covers add/remove/lookup; per-session logic runs under
// the entry lock.
type Sessions struct {
	presence      *Presence
	wallet        port.WalletLedger
	settler       *Settlement
	journal       port.SessionJournal
	billing       billingScheduler
	walletTimeout time.Duration
	now           func() time.Time

	mu             sync.RWMutex
	entries        map[domain.SessionID]*sessionEntry
	tombstones     map[domain.SessionID]domain.SessionState
	activeByParty  map[string]domain.SessionID
	pendingByPayer map[domain.UserID]domain.SessionID
	pendingByHost  map[domain.UserID]map[domain.SessionID]struct{}
}

// NewSessions builds the store. journal may be nil when durability is
// disabled (empty JOURNAL_PATH). The billing engine is attached afterwards
// because it needs the store as its tick target.
func NewSessions(presence *Presence, wallet port.WalletLedger, settler *Settlement, journal port.SessionJournal, walletTimeout time.Duration) *Sessions {
	return &Sessions{
		presence:       presence,
		wallet:         wallet,
		settler:        settler,
		journal:        journal,
		walletTimeout:  walletTimeout,
		now:            time.Now,
		entries:        make(map[domain.SessionID]*sessionEntry),
		tombstones:     make(map[domain.SessionID]domain.SessionState),
		activeByParty:  make(map[string]domain.SessionID),
		pendingByPayer: make(map[domain.UserID]domain.SessionID),
		pendingByHost:  make(map[domain.UserID]map[domain.SessionID]struct{}),
	}
}

func (s *Sessions) AttachBilling(b billingScheduler) {
	s.billing = b
}

func (s *Sessions) journalAppend(ctx context.Context, kind port.JournalEntryKind, sess *domain.Session) {
	if s.journal == nil {
		return
	}
	e := port.JournalEntry{Kind: kind, At: s.now(), Session: *sess}
	if err := s.journal.Append(ctx, e); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID.String()).Str("kind", string(kind)).Msg("journal append failed")
	}
}

// entry resolves a live session. Tombstoned ids report ErrInvalidTransition
// so replayed messages for ended sessions are rejected, not confused with
// unknown ids.
func (s *Sessions) entry(id domain.SessionID) (*sessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return e, nil
	}
	if _, ok := s.tombstones[id]; ok {
		return nil, domain.ErrInvalidTransition
	}
	return nil, domain.ErrNotFound
}

// Snapshot returns a copy of the current session for read-only use (relay
// routing, handlers). Never the live pointer.
func (s *Sessions) Snapshot(id domain.SessionID) (domain.Session, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.s, nil
}

// Create opens a pending session from payer to host and notifies the host.
// A payer with any open session, or a host already in an active one, is
// busy. A host with other pending requests is still idle: requests queue,
// acceptance is exclusive.
func (s *Sessions) Create(ctx context.Context, payerID, hostID domain.UserID, kind domain.SessionKind) (domain.Session, error) {
	rate, err := s.presence.HostRate(hostID)
	if err != nil {
		return domain.Session{}, domain.ErrNotFound
	}

	payer := domain.Identity{Role: domain.RolePayer, UserID: payerID}
	host := domain.Identity{Role: domain.RoleHost, UserID: hostID}

	s.mu.Lock()
	if _, ok := s.pendingByPayer[payerID]; ok {
		s.mu.Unlock()
		return domain.Session{}, domain.ErrAlreadyBusy
	}
	if _, ok := s.activeByParty[payer.Key()]; ok {
		s.mu.Unlock()
		return domain.Session{}, domain.ErrAlreadyBusy
	}
	if _, ok := s.activeByParty[host.Key()]; ok {
		s.mu.Unlock()
		return domain.Session{}, domain.ErrAlreadyBusy
	}
	sess := domain.NewSession(payerID, hostID, kind, rate)
	s.entries[sess.ID] = &sessionEntry{s: sess}
	s.pendingByPayer[payerID] = sess.ID
	if s.pendingByHost[hostID] == nil {
		s.pendingByHost[hostID] = make(map[domain.SessionID]struct{})
	}
	s.pendingByHost[hostID][sess.ID] = struct{}{}
	s.mu.Unlock()

	s.journalAppend(ctx, port.JournalCreated, sess)

	if err := s.presence.Send(host, domain.NewSessionRequestedEvent(sess)); err != nil {
		// host vanished between the rate lookup and the notify
		s.discard(sess.ID, domain.StateRejected)
		return domain.Session{}, domain.ErrPeerUnreachable
	}

	log.Info().
		Str("session_id", sess.ID.String()).
		Str("payer_id", payerID.String()).
		Str("host_id", hostID.String()).
		Str("kind", string(kind)).
		Msg("session requested")
	return *sess, nil
}

// Accept moves a pending session to active. The payer's balance is checked
// once, synchronously, with a bounded timeout; a zero balance closes the
// session with insufficient_funds_at_start and nothing is ever billed.
func (s *Sessions) Accept(ctx context.Context, id domain.SessionID) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State != domain.StatePending {
		return domain.ErrInvalidTransition
	}
	sess := e.s
	payer, host := sess.Payer(), sess.Host()

	if _, err := s.presence.Lookup(payer); err != nil {
		// payer left before the host answered
		s.finishPendingLocked(ctx, e, domain.StateRejected)
		return domain.ErrNotFound
	}

	wctx, cancel := context.WithTimeout(ctx, s.walletTimeout)
	balance, err := s.wallet.GetBalance(wctx, sess.PayerID)
	cancel()
	if err != nil || balance <= 0 {
		now := s.now()
		sess.State = domain.StateEnded
		sess.EndedAt = now
		sess.EndReason = domain.ReasonInsufficientFundsAtStart
		s.removeLocked(id, domain.StateEnded)
		s.journalAppend(ctx, port.JournalClosed, sess)
		s.settler.Settle(ctx, sess, 0, 0)
		return domain.ErrInsufficientFunds
	}

	// Activation is exclusive per party: a second accept for an occupied
	// host or payer fails and the session stays pending.
	s.mu.Lock()
	if _, ok := s.activeByParty[host.Key()]; ok {
		s.mu.Unlock()
		return domain.ErrAlreadyBusy
	}
	if _, ok := s.activeByParty[payer.Key()]; ok {
		s.mu.Unlock()
		return domain.ErrAlreadyBusy
	}
	delete(s.pendingByPayer, sess.PayerID)
	s.dropPendingHostLocked(sess.HostID, id)
	s.activeByParty[host.Key()] = id
	s.activeByParty[payer.Key()] = id
	s.mu.Unlock()

	now := s.now()
	sess.State = domain.StateActive
	sess.StartedAt = now
	sess.LastBillTickAt = now
	s.presence.SetBusy(host, true)
	s.presence.SetBusy(payer, true)
	s.journalAppend(ctx, port.JournalAccepted, sess)
	if s.billing != nil {
		s.billing.Add(id)
	}
	if err := s.presence.Send(payer, domain.NewSessionAcceptEvent(id)); err != nil {
		log.Warn().Str("session_id", id.String()).Msg("payer unreachable for session_accept")
	}

	log.Info().Str("session_id", id.String()).Int64("rate_per_minute_cents", sess.RatePerMinuteCents).Msg("session active")
	return nil
}

// Reject declines a pending request. Terminal, no settlement record: no
// charge ever occurred.
func (s *Sessions) Reject(ctx context.Context, id domain.SessionID) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State != domain.StatePending {
		return domain.ErrInvalidTransition
	}
	payer := e.s.Payer()
	s.finishPendingLocked(ctx, e, domain.StateRejected)
	if err := s.presence.Send(payer, domain.NewSessionRejectEvent(id)); err != nil {
		log.Debug().Str("session_id", id.String()).Msg("payer unreachable for session_reject")
	}
	log.Info().Str("session_id", id.String()).Msg("session rejected")
	return nil
}

// Stop is a voluntary end by either participant.
func (s *Sessions) Stop(ctx context.Context, id domain.SessionID, requestedBy domain.Identity) error {
	e, err := s.entry(id)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil // already ended, idempotent
		}
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State != domain.StateActive {
		return domain.ErrInvalidTransition
	}
	if _, err := e.s.Counterpart(requestedBy); err != nil {
		return domain.ErrNotFound
	}
	s.endLocked(ctx, e, domain.ReasonCompleted)
	return nil
}

// ForceEnd terminates an active session. Calling it on an already-ended
// session is a no-op, which is what guarantees at-most-once settlement when
// a disconnect races a failing billing tick.
func (s *Sessions) ForceEnd(ctx context.Context, id domain.SessionID, reason domain.EndReason) error {
	e, err := s.entry(id)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State != domain.StateActive {
		return nil
	}
	s.endLocked(ctx, e, reason)
	return nil
}

// PartyDisconnected is the presence registry's cancellation signal: the
// party's active session is force-ended and its open requests are
// withdrawn.
func (s *Sessions) PartyDisconnected(identity domain.Identity) {
	ctx := context.Background()

	s.mu.RLock()
	activeID, hasActive := s.activeByParty[identity.Key()]
	var pending []domain.SessionID
	switch identity.Role {
	case domain.RolePayer:
		if id, ok := s.pendingByPayer[identity.UserID]; ok {
			pending = append(pending, id)
		}
	case domain.RoleHost:
		for id := range s.pendingByHost[identity.UserID] {
			pending = append(pending, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range pending {
		e, err := s.entry(id)
		if err != nil {
			continue
		}
		e.mu.Lock()
		if e.s.State == domain.StatePending {
			counterpart, _ := e.s.Counterpart(identity)
			s.finishPendingLocked(ctx, e, domain.StateRejected)
			if err := s.presence.Send(counterpart, domain.NewSessionRejectEvent(id)); err != nil {
				log.Debug().Str("session_id", id.String()).Msg("counterpart unreachable for withdrawn request")
			}
		}
		e.mu.Unlock()
	}

	if hasActive {
		if err := s.ForceEnd(ctx, activeID, domain.ReasonPeerDisconnected); err != nil {
			log.Error().Err(err).Str("session_id", activeID.String()).Msg("force-end on disconnect failed")
		}
	}
}

// ApplyBillingTick advances the meter for one active session. Runs under the
// entry lock, so it can never interleave with stop/force-end. A failed or
// timed-out reservation ends the session; the partial interval is absorbed
// by settlement's final rounding, never billed twice.
func (s *Sessions) ApplyBillingTick(ctx context.Context, id domain.SessionID) {
	e, err := s.entry(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sess := e.s
	if sess.State != domain.StateActive {
		return
	}

	now := s.now()
	elapsed := int64(now.Sub(sess.LastBillTickAt) / time.Second)
	if elapsed <= 0 {
		return
	}
	minutes := domain.BillableMinutes(elapsed)
	tick := domain.BillingTick{
		SessionID:      id,
		Sequence:       sess.TickSeq + 1,
		ElapsedSeconds: elapsed,
		CostDeltaCents: minutes * sess.RatePerMinuteCents,
	}

	wctx, cancel := context.WithTimeout(ctx, s.walletTimeout)
	err = s.wallet.ReserveOrDebit(wctx, sess.PayerID, tick.CostDeltaCents)
	cancel()
	if err != nil {
		log.Info().Err(err).Str("session_id", id.String()).Int64("cost_delta_cents", tick.CostDeltaCents).Msg("reservation failed, ending session")
		s.endLocked(ctx, e, domain.ReasonInsufficientFunds)
		return
	}

	sess.TickSeq = tick.Sequence
	sess.AccruedCostCents += tick.CostDeltaCents
	sess.BilledSeconds += minutes * 60
	// Advance by whole billed minutes, not to now: drift seconds stay in the
	// next interval instead of being billed again.
	sess.LastBillTickAt = sess.LastBillTickAt.Add(time.Duration(minutes) * time.Minute)
	s.journalAppend(ctx, port.JournalTick, sess)

	update := domain.NewCostUpdateEvent(sess)
	for _, identity := range []domain.Identity{sess.Host(), sess.Payer()} {
		if err := s.presence.Send(identity, update); err != nil {
			log.Debug().Str("session_id", id.String()).Str("identity", identity.Key()).Msg("cost_update not delivered")
		}
	}
}

// Recover replays the journal after a restart. Terminal sessions become
// tombstones, pending ones are discarded (both parties are gone), and
// active ones are settled as disconnected at their last known-alive
// instant, so a crash never loses a settlement and never double-bills.
func (s *Sessions) Recover(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}
	entries, err := s.journal.Replay(ctx)
	if err != nil {
		return err
	}
	for _, en := range entries {
		sess := en.Session
		switch sess.State {
		case domain.StateEnded, domain.StateRejected:
			s.mu.Lock()
			s.tombstones[sess.ID] = sess.State
			s.mu.Unlock()
		case domain.StatePending:
			s.mu.Lock()
			s.tombstones[sess.ID] = domain.StateRejected
			s.mu.Unlock()
			log.Info().Str("session_id", sess.ID.String()).Msg("recovery: pending session discarded")
		case domain.StateActive:
			endedAt := sess.LastBillTickAt
			if endedAt.Before(sess.StartedAt) {
				endedAt = sess.StartedAt
			}
			sess.State = domain.StateEnded
			sess.EndedAt = endedAt
			sess.EndReason = domain.ReasonPeerDisconnected
			totalSeconds := int64(endedAt.Sub(sess.StartedAt) / time.Second)
			debited := sess.AccruedCostCents
			sess.BilledSeconds = domain.BillableMinutes(totalSeconds) * 60
			sess.AccruedCostCents = domain.CostCents(totalSeconds, sess.RatePerMinuteCents)
			s.mu.Lock()
			s.tombstones[sess.ID] = domain.StateEnded
			s.mu.Unlock()
			s.journalAppend(ctx, port.JournalClosed, &sess)
			if _, err := s.settler.Settle(ctx, &sess, totalSeconds, debited); err != nil {
				log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("recovered session settled short")
			}
			log.Info().Str("session_id", sess.ID.String()).Msg("recovery: active session settled as disconnected")
		}
	}
	return nil
}

// endLocked performs the single settlement path shared by stop and both
// force-end triggers. Caller holds the entry lock and has verified the
// session is active.
func (s *Sessions) endLocked(ctx context.Context, e *sessionEntry, reason domain.EndReason) {
	sess := e.s
	now := s.now()
	sess.State = domain.StateEnded
	sess.EndedAt = now
	sess.EndReason = reason
	totalSeconds := int64(now.Sub(sess.StartedAt) / time.Second)

	// The closed snapshot carries the settled totals, including the ceiling
	// minute the ticks have not collected yet. Settlement debits only the
	// difference to what was already taken.
	debited := sess.AccruedCostCents
	sess.BilledSeconds = domain.BillableMinutes(totalSeconds) * 60
	sess.AccruedCostCents = domain.CostCents(totalSeconds, sess.RatePerMinuteCents)

	if s.billing != nil {
		s.billing.Remove(sess.ID)
	}
	s.removeLocked(sess.ID, domain.StateEnded)
	s.journalAppend(ctx, port.JournalClosed, sess)
	if _, err := s.settler.Settle(ctx, sess, totalSeconds, debited); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("session settled short")
	}
}

// finishPendingLocked retires a pending session without settlement. Caller
// holds the entry lock.
func (s *Sessions) finishPendingLocked(ctx context.Context, e *sessionEntry, state domain.SessionState) {
	e.s.State = state
	s.removeLocked(e.s.ID, state)
	s.journalAppend(ctx, port.JournalClosed, e.s)
}

// discard retires a just-created pending session by id (create's failure
// path, before the session was ever handed out).
func (s *Sessions) discard(id domain.SessionID, state domain.SessionState) {
	e, err := s.entry(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State == domain.StatePending {
		s.finishPendingLocked(context.Background(), e, state)
	}
}

// removeLocked drops the session from the live table and indexes and leaves
// a tombstone. Named for the entry lock the caller holds; it takes the
// table lock itself.
func (s *Sessions) removeLocked(id domain.SessionID, state domain.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	sess := e.s
	delete(s.entries, id)
	s.tombstones[id] = state
	delete(s.activeByParty, sess.Host().Key())
	delete(s.activeByParty, sess.Payer().Key())
	if sid, ok := s.pendingByPayer[sess.PayerID]; ok && sid == id {
		delete(s.pendingByPayer, sess.PayerID)
	}
	s.dropPendingHostLocked(sess.HostID, id)
}

func (s *Sessions) dropPendingHostLocked(hostID domain.UserID, id domain.SessionID) {
	if set, ok := s.pendingByHost[hostID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s.pendingByHost, hostID)
		}
	}
}
