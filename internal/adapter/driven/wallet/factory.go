package wallet

import (
	"errors"

	"github.com/auraline/readings/internal/adapter/driven/wallet/memory"
	redisdriver "github.com/auraline/readings/internal/adapter/driven/wallet/redis"
	"github.com/auraline/readings/internal/core/port"
	"github.com/redis/go-redis/v9"
)

type DriverType string

const (
	DriverMemory DriverType = "memory"
	DriverRedis  DriverType = "redis"
)

var (
	ErrInvalidDriver = errors.New("unknown wallet driver")
	ErrMissingRedis  = errors.New("redis wallet driver requires a redis address")
)

// New selects a wallet ledger driver. The memory driver serves development
// and tests; redis is the deployable one.
func New(driver DriverType, redisAddr string) (port.WalletLedger, error) {
	switch driver {
	case DriverMemory:
		return memory.NewLedger(), nil
	case DriverRedis:
		if redisAddr == "" {
			return nil, ErrMissingRedis
		}
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		return redisdriver.NewLedger(client), nil
	default:
		return nil, ErrInvalidDriver
	}
}
