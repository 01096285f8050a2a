package service

import (
	"context"
	"errors"
	"testing"
	"time"

	persistence "github.com/auraline/readings/internal/adapter/driven/persistence/memory"
	"github.com/auraline/readings/internal/core/domain"
	"github.com/google/uuid"
)

// brokenWallet fails every operation, the worst case the settlement path
// has to absorb without blocking session closure.
type brokenWallet struct{}

func (brokenWallet) GetBalance(ctx context.Context, userID domain.UserID) (int64, error) {
	return 0, errors.New("ledger down")
}

func (brokenWallet) ReserveOrDebit(ctx context.Context, userID domain.UserID, cents int64) error {
	return errors.New("ledger down")
}

func (brokenWallet) Credit(ctx context.Context, userID domain.UserID, cents int64) error {
	return errors.New("ledger down")
}

func TestSettleLedgerFailureStillWritesRecord(t *testing.T) {
	presence := NewPresence()
	store := persistence.NewSettlementRepository()
	settler := NewSettlement(brokenWallet{}, store, presence, time.Second)

	sess := domain.NewSession(domain.UserID(uuid.New()), domain.UserID(uuid.New()), domain.KindVoice, 500)
	start := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	sess.State = domain.StateEnded
	sess.StartedAt = start
	sess.EndedAt = start.Add(125 * time.Second)
	sess.EndReason = domain.ReasonCompleted

	rec, err := settler.Settle(context.Background(), sess, 125, 0)

	if !rec.Shortfall {
		t.Error("ledger failure must flag the record as shortfall")
	}
	if !errors.Is(err, domain.ErrSettlementShortfall) {
		t.Errorf("settle error = %v, want ErrSettlementShortfall", err)
	}
	if rec.TotalCostCents != 1500 || rec.HostEarnedCents != 1050 {
		t.Errorf("cost computation must not depend on the ledger: %d/%d", rec.TotalCostCents, rec.HostEarnedCents)
	}
	stored, err := store.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("record must be written despite the shortfall: %v", err)
	}
	if !stored.Shortfall {
		t.Error("stored record must carry the shortfall flag")
	}
}

func TestSettleSplitAlwaysSums(t *testing.T) {
	presence := NewPresence()
	store := persistence.NewSettlementRepository()
	settler := NewSettlement(brokenWallet{}, store, presence, time.Second)

	for _, seconds := range []int64{0, 1, 42, 59, 60, 61, 125, 3601} {
		sess := domain.NewSession(domain.UserID(uuid.New()), domain.UserID(uuid.New()), domain.KindChat, 333)
		sess.State = domain.StateEnded
		sess.EndReason = domain.ReasonCompleted
		rec, err := settler.Settle(context.Background(), sess, seconds, 0)
		if (err != nil) != rec.Shortfall {
			t.Errorf("seconds=%d: error %v does not match shortfall flag %v", seconds, err, rec.Shortfall)
		}
		if rec.HostEarnedCents+rec.PlatformEarnedCents != rec.TotalCostCents {
			t.Errorf("seconds=%d: %d + %d != %d", seconds, rec.HostEarnedCents, rec.PlatformEarnedCents, rec.TotalCostCents)
		}
		if want := domain.CostCents(seconds, 333); rec.TotalCostCents != want {
			t.Errorf("seconds=%d: total = %d, want %d", seconds, rec.TotalCostCents, want)
		}
	}
}
