package wallet

import (
	"errors"
	"testing"
)

func TestFactoryMemory(t *testing.T) {
	ledger, err := New(DriverMemory, "")
	if err != nil {
		t.Fatalf("memory driver: %v", err)
	}
	if ledger == nil {
		t.Fatal("memory driver returned nil ledger")
	}
}

func TestFactoryRedisRequiresAddr(t *testing.T) {
	if _, err := New(DriverRedis, ""); !errors.Is(err, ErrMissingRedis) {
		t.Errorf("redis without addr = %v, want ErrMissingRedis", err)
	}
	ledger, err := New(DriverRedis, "localhost:6379")
	if err != nil {
		t.Fatalf("redis driver: %v", err)
	}
	if ledger == nil {
		t.Fatal("redis driver returned nil ledger")
	}
}

func TestFactoryUnknownDriver(t *testing.T) {
	if _, err := New(DriverType("dynamo"), ""); !errors.Is(err, ErrInvalidDriver) {
		t.Errorf("unknown driver = %v, want ErrInvalidDriver", err)
	}
}
