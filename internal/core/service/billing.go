package service

import (
	"context"
	"sync"
	"time"

	"github.com/auraline/readings/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// tickApplier is the session store's side of a billing tick. The engine only
// schedules; all billing state lives with the session.
type tickApplier interface {
	ApplyBillingTick(ctx context.Context, id domain.SessionID)
}

// Billing drives the per-minute meter. One loop, one ticker, one working set
// of active session ids; cancellation on session end is a synchronous
// removal from the set, there are no per-session timers.
type Billing struct {
	interval time.Duration
	target   tickApplier

	mu     sync.Mutex
	active map[domain.SessionID]struct{}

	quit chan struct{}
	once sync.Once
}

func NewBilling(interval time.Duration, target tickApplier) *Billing {
	return &Billing{
		interval: interval,
		target:   target,
		active:   make(map[domain.SessionID]struct{}),
		quit:     make(chan struct{}),
	}
}

func (b *Billing) Add(id domain.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active[id] = struct{}{}
}

func (b *Billing) Remove(id domain.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, id)
}

func (b *Billing) snapshot() []domain.SessionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]domain.SessionID, 0, len(b.active))
	for id := range b.active {
		ids = append(ids, id)
	}
	return ids
}

func (b *Billing) Run() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.quit:
			log.Info().Msg("stopping billing engine")
			return
		case <-ticker.C:
			for _, id := range b.snapshot() {
				// Each tick takes the session's own lock; a session ended
				// between snapshot and apply is a no-op there.
				go b.target.ApplyBillingTick(context.Background(), id)
			}
		}
	}
}

func (b *Billing) Stop() {
	b.once.Do(func() { close(b.quit) })
}
