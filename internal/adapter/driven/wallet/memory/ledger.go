package memory

import (
	"context"
	"sync"
	"time"

	"github.com/auraline/readings/internal/core/domain"
)

// Transaction is one append-only row in a wallet's audit log.
type Transaction struct {
	AmountCents       int64
	BalanceAfterCents int64
	At                time.Time
}

// wallet holds one user's balance. The per-wallet mutex is the in-memory
// analogue of the ledger's row-level lock: concurrent debit/credit for the
// same user serialize here, different users do not contend.
type wallet struct {
	mu      sync.Mutex
	balance int64
	log     []Transaction
}

// Ledger is the in-memory wallet ledger driver, used in development and
// tests. Balances are minor currency units.
type Ledger struct {
	mu      sync.RWMutex
	wallets map[domain.UserID]*wallet
}

func NewLedger() *Ledger {
	return &Ledger{wallets: make(map[domain.UserID]*wallet)}
}

func (l *Ledger) get(userID domain.UserID) *wallet {
	l.mu.RLock()
	w, ok := l.wallets[userID]
	l.mu.RUnlock()
	if ok {
		return w
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.wallets[userID]; ok {
		return w
	}
	w = &wallet{}
	l.wallets[userID] = w
	return w
}

func (l *Ledger) GetBalance(ctx context.Context, userID domain.UserID) (int64, error) {
	w := l.get(userID)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance, nil
}

func (l *Ledger) ReserveOrDebit(ctx context.Context, userID domain.UserID, cents int64) error {
	w := l.get(userID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balance < cents {
		return domain.ErrInsufficientFunds
	}
	w.balance -= cents
	w.log = append(w.log, Transaction{AmountCents: -cents, BalanceAfterCents: w.balance, At: time.Now()})
	return nil
}

func (l *Ledger) Credit(ctx context.Context, userID domain.UserID, cents int64) error {
	w := l.get(userID)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balance += cents
	w.log = append(w.log, Transaction{AmountCents: cents, BalanceAfterCents: w.balance, At: time.Now()})
	return nil
}

// Transactions returns a copy of the user's audit log.
func (l *Ledger) Transactions(userID domain.UserID) []Transaction {
	w := l.get(userID)
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Transaction, len(w.log))
	copy(out, w.log)
	return out
}
