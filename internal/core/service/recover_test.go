package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	persistence "github.com/auraline/readings/internal/adapter/driven/persistence/memory"
	walletmem "github.com/auraline/readings/internal/adapter/driven/wallet/memory"
	"github.com/auraline/readings/internal/core/domain"
	"github.com/auraline/readings/internal/core/port"
)

// stubJournal keeps the latest snapshot per session, the same contract the
// sqlite driver's Replay provides.
type stubJournal struct {
	mu     sync.Mutex
	latest map[domain.SessionID]port.JournalEntry
	order  []domain.SessionID
}

func newStubJournal() *stubJournal {
	return &stubJournal{latest: make(map[domain.SessionID]port.JournalEntry)}
}

func (j *stubJournal) Append(ctx context.Context, e port.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.latest[e.Session.ID]; !ok {
		j.order = append(j.order, e.Session.ID)
	}
	j.latest[e.Session.ID] = e
	return nil
}

func (j *stubJournal) Replay(ctx context.Context) ([]port.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]port.JournalEntry, 0, len(j.order))
	for _, id := range j.order {
		out = append(out, j.latest[id])
	}
	return out, nil
}

func (j *stubJournal) Close() error { return nil }

// After a restart, a journaled active session is settled as disconnected at
// its last known-alive instant, charging only what the journaled ticks
// support plus the closing ceiling minute.
func TestRecoverSettlesActiveSessions(t *testing.T) {
	journal := newStubJournal()
	clock := &fakeClock{now: time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)}

	// first process life: session goes active and survives one tick
	{
		f := newFixture(t)
		f.sessions.journal = journal
		f.sessions.now = clock.Now
		id, _, _, _, _ := f.startActive(t, 500, 10000)
		clock.Advance(60 * time.Second)
		f.sessions.ApplyBillingTick(context.Background(), id)
	}

	// second process life: fresh services, same journal
	presence := NewPresence()
	ledger := walletmem.NewLedger()
	store := persistence.NewSettlementRepository()
	settler := NewSettlement(ledger, store, presence, time.Second)
	sessions := NewSessions(presence, ledger, settler, journal, time.Second)
	presence.AttachTerminator(sessions)

	if err := sessions.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	records := store.All()
	if len(records) != 1 {
		t.Fatalf("settlement records after recovery = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.EndReason != domain.ReasonPeerDisconnected {
		t.Errorf("end reason = %s, want peer_disconnected", rec.EndReason)
	}
	if rec.TotalSeconds != 60 {
		t.Errorf("totalSeconds = %d, want 60 (last journaled tick)", rec.TotalSeconds)
	}
	if rec.TotalCostCents != 500 {
		t.Errorf("totalCost = %d, want 500: recovery must not bill past the journal", rec.TotalCostCents)
	}

	// the closed snapshot written during recovery carries the settled totals
	entries, err := journal.Replay(context.Background())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	for _, e := range entries {
		if e.Session.ID != rec.SessionID {
			continue
		}
		if e.Kind != port.JournalClosed {
			t.Errorf("journal entry kind after recovery = %s, want closed", e.Kind)
		}
		if e.Session.BilledSeconds != 60 || e.Session.AccruedCostCents != 500 {
			t.Errorf("journaled counters = %d/%d, want 60/500", e.Session.BilledSeconds, e.Session.AccruedCostCents)
		}
	}

	// the recovered session is a tombstone, replays are refused
	if err := sessions.ForceEnd(context.Background(), rec.SessionID, domain.ReasonCompleted); err != nil {
		t.Errorf("forceEnd on recovered tombstone = %v, want nil no-op", err)
	}
	if n := len(store.All()); n != 1 {
		t.Errorf("records after replayed end = %d, want 1", n)
	}
}

func TestRecoverDiscardsPending(t *testing.T) {
	journal := newStubJournal()
	{
		f := newFixture(t)
		f.sessions.journal = journal
		_, hostID := f.connect(t, domain.RoleHost, 500)
		_, payerID := f.connect(t, domain.RolePayer, 0)
		if _, err := f.sessions.Create(context.Background(), payerID, hostID, domain.KindChat); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	presence := NewPresence()
	ledger := walletmem.NewLedger()
	store := persistence.NewSettlementRepository()
	settler := NewSettlement(ledger, store, presence, time.Second)
	sessions := NewSessions(presence, ledger, settler, journal, time.Second)

	if err := sessions.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n := len(store.All()); n != 0 {
		t.Errorf("pending sessions must recover without settlement, got %d records", n)
	}

	entries, err := journal.Replay(context.Background())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	for _, e := range entries {
		if err := sessions.Accept(context.Background(), e.Session.ID); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("accept of discarded pending session = %v, want ErrInvalidTransition", err)
		}
	}
}
