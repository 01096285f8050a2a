package memory

import (
	"context"
	"sync"

	"github.com/auraline/readings/internal/core/domain"
)

// SettlementRepository keeps settlement records in memory, append-only. A
// second append for the same session is rejected so the exactly-once
// settlement invariant is observable in tests.
type SettlementRepository struct {
	mu        sync.RWMutex
	records   []domain.SettlementRecord
	bySession map[domain.SessionID]int
}

func NewSettlementRepository() *SettlementRepository {
	return &SettlementRepository{bySession: make(map[domain.SessionID]int)}
}

func (r *SettlementRepository) Append(ctx context.Context, rec domain.SettlementRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySession[rec.SessionID]; ok {
		return domain.ErrInvalidTransition
	}
	r.bySession[rec.SessionID] = len(r.records)
	r.records = append(r.records, rec)
	return nil
}

func (r *SettlementRepository) Get(ctx context.Context, sessionID domain.SessionID) (domain.SettlementRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.bySession[sessionID]
	if !ok {
		return domain.SettlementRecord{}, domain.ErrNotFound
	}
	return r.records[i], nil
}

// All returns a copy of every record, in append order.
func (r *SettlementRepository) All() []domain.SettlementRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SettlementRecord, len(r.records))
	copy(out, r.records)
	return out
}

func (r *SettlementRepository) Close() error {
	return nil
}
