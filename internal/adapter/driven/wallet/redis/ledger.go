package redis

import (
	"context"
	"fmt"

	"github.com/auraline/readings/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

// debitScript removes cents from a wallet only if the balance covers it.
// Running it as a single script is what makes check-and-debit atomic.
var debitScript = redis.NewScript(`
local balance = tonumber(redis.call("GET", KEYS[1]) or "0")
local amount = tonumber(ARGV[1])
if balance < amount then
  return -1
end
return redis.call("DECRBY", KEYS[1], amount)
`)

// Ledger is the Redis wallet ledger driver. Each wallet is one key; Redis's
// single-threaded execution gives the per-wallet serialization the core
// requires.
type Ledger struct {
	client *redis.Client
}

func NewLedger(client *redis.Client) *Ledger {
	return &Ledger{client: client}
}

func key(userID domain.UserID) string {
	return "wallet:" + userID.String()
}

func (l *Ledger) GetBalance(ctx context.Context, userID domain.UserID) (int64, error) {
	balance, err := l.client.Get(ctx, key(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("wallet balance read: %w", err)
	}
	return balance, nil
}

func (l *Ledger) ReserveOrDebit(ctx context.Context, userID domain.UserID, cents int64) error {
	res, err := debitScript.Run(ctx, l.client, []string{key(userID)}, cents).Int64()
	if err != nil {
		return fmt.Errorf("wallet debit: %w", err)
	}
	if res < 0 {
		return domain.ErrInsufficientFunds
	}
	return nil
}

func (l *Ledger) Credit(ctx context.Context, userID domain.UserID, cents int64) error {
	if err := l.client.IncrBy(ctx, key(userID), cents).Err(); err != nil {
		return fmt.Errorf("wallet credit: %w", err)
	}
	return nil
}
