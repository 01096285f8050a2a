package port

import (
	"context"

	"github.com/auraline/readings/internal/core/domain"
)

// WalletLedger is the external balance authority. It must serialize
// concurrent debit/credit per user; the core never read-then-writes a
// balance around it. Calls are the only I/O on the billing path and are
// always made with a bounded-timeout context.
type WalletLedger interface {
	GetBalance(ctx context.Context, userID domain.UserID) (int64, error)
	// ReserveOrDebit atomically removes cents from the user's balance or
	// returns domain.ErrInsufficientFunds without any partial effect.
	ReserveOrDebit(ctx context.Context, userID domain.UserID, cents int64) error
	Credit(ctx context.Context, userID domain.UserID, cents int64) error
}
