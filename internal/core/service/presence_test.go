package service

import (
	"errors"
	"sync"
	"testing"

	"github.com/auraline/readings/internal/core/domain"
	"github.com/google/uuid"
)

func TestPresenceRegisterDuplicate(t *testing.T) {
	p := NewPresence()
	identity := domain.Identity{Role: domain.RoleHost, UserID: domain.UserID(uuid.New())}
	c := &fakeClient{identity: identity}

	if err := p.Register(identity, c, 500); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.Register(identity, c, 500); !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Errorf("duplicate register = %v, want ErrAlreadyRegistered", err)
	}
}

func TestPresenceLookupAfterUnregister(t *testing.T) {
	p := NewPresence()
	identity := domain.Identity{Role: domain.RolePayer, UserID: domain.UserID(uuid.New())}
	c := &fakeClient{identity: identity}

	if err := p.Register(identity, c, 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := p.Lookup(identity); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	p.Unregister(identity)
	if _, err := p.Lookup(identity); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("lookup after unregister = %v, want ErrNotFound", err)
	}
	// unregister of an unknown party is a no-op
	p.Unregister(identity)
}

func TestPresenceSameUserBothRoles(t *testing.T) {
	p := NewPresence()
	userID := domain.UserID(uuid.New())
	asHost := domain.Identity{Role: domain.RoleHost, UserID: userID}
	asPayer := domain.Identity{Role: domain.RolePayer, UserID: userID}

	if err := p.Register(asHost, &fakeClient{identity: asHost}, 700); err != nil {
		t.Fatalf("register host: %v", err)
	}
	if err := p.Register(asPayer, &fakeClient{identity: asPayer}, 0); err != nil {
		t.Fatalf("register payer under same user id: %v", err)
	}

	rate, err := p.HostRate(userID)
	if err != nil {
		t.Fatalf("host rate: %v", err)
	}
	if rate != 700 {
		t.Errorf("host rate = %d, want 700", rate)
	}
}

func TestPresenceBusyFlag(t *testing.T) {
	p := NewPresence()
	identity := domain.Identity{Role: domain.RoleHost, UserID: domain.UserID(uuid.New())}
	if err := p.Register(identity, &fakeClient{identity: identity}, 500); err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.IsBusy(identity) {
		t.Error("fresh registration must not be busy")
	}
	p.SetBusy(identity, true)
	if !p.IsBusy(identity) {
		t.Error("busy flag not set")
	}
	p.SetBusy(identity, false)
	if p.IsBusy(identity) {
		t.Error("busy flag not cleared")
	}
}

func TestPresenceConcurrentChurn(t *testing.T) {
	p := NewPresence()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			identity := domain.Identity{Role: domain.RolePayer, UserID: domain.UserID(uuid.New())}
			c := &fakeClient{identity: identity}
			if err := p.Register(identity, c, 0); err != nil {
				t.Errorf("register: %v", err)
				return
			}
			p.SetBusy(identity, true)
			if _, err := p.Lookup(identity); err != nil {
				t.Errorf("lookup: %v", err)
			}
			p.Unregister(identity)
		}()
	}
	wg.Wait()
}
