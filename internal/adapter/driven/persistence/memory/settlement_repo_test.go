package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/auraline/readings/internal/core/domain"
	"github.com/google/uuid"
)

func record() domain.SettlementRecord {
	return domain.SettlementRecord{
		RecordID:            "01J0000000000000000000TEST",
		SessionID:           domain.SessionID(uuid.New()),
		HostID:              domain.UserID(uuid.New()),
		PayerID:             domain.UserID(uuid.New()),
		Kind:                domain.KindVideo,
		EndedAt:             time.Now(),
		TotalSeconds:        125,
		TotalCostCents:      1500,
		HostEarnedCents:     1050,
		PlatformEarnedCents: 450,
		EndReason:           domain.ReasonCompleted,
	}
}

func TestAppendAndGet(t *testing.T) {
	r := NewSettlementRepository()
	ctx := context.Background()
	rec := record()

	if err := r.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := r.Get(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != rec {
		t.Errorf("got %+v, want %+v", got, rec)
	}
}

func TestDoubleAppendRejected(t *testing.T) {
	r := NewSettlementRepository()
	ctx := context.Background()
	rec := record()

	if err := r.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	mutated := rec
	mutated.TotalCostCents = 9999
	if err := r.Append(ctx, mutated); err == nil {
		t.Fatal("second append for the same session must be rejected")
	}
	got, _ := r.Get(ctx, rec.SessionID)
	if got.TotalCostCents != 1500 {
		t.Errorf("record was mutated by a replayed append")
	}
}

func TestGetUnknown(t *testing.T) {
	r := NewSettlementRepository()
	if _, err := r.Get(context.Background(), domain.SessionID(uuid.New())); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("get unknown = %v, want ErrNotFound", err)
	}
}
