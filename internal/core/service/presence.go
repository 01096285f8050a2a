package service

import (
	"hash/fnv"
	"sync"

	"github.com/auraline/readings/internal/core/domain"
	"github.com/auraline/readings/internal/core/port"
	"github.com/rs/zerolog/log"
)

const presenceShards = 16

// party is the registry's record of one live connection. Owned exclusively
// by the Presence registry; other components only ever see the identity or
// the client handle.
type party struct {
	identity           domain.Identity
	client             port.Client
	busy               bool
	ratePerMinuteCents int64
}

type presenceShard struct {
	mu      sync.RWMutex
	parties map[string]*party
}

// terminator is how the registry tells the session store that a busy party
// vanished. Wired after construction to break the presence<->sessions cycle.
type terminator interface {
	PartyDisconnected(identity domain.Identity)
}

// Presence maps identities to live connection handles. Sharded so that no
// single lock covers all concurrent connections; no session logic runs under
// a shard lock, only add/remove/lookup.
type Presence struct {
	shards     [presenceShards]presenceShard
	terminator terminator
}

func NewPresence() *Presence {
	p := &Presence{}
	for i := range p.shards {
		p.shards[i].parties = make(map[string]*party)
	}
	return p
}

// AttachTerminator wires the session store in; called once during startup.
func (p *Presence) AttachTerminator(t terminator) {
	p.terminator = t
}

func (p *Presence) shard(key string) *presenceShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &p.shards[h.Sum32()%presenceShards]
}

func (p *Presence) Register(identity domain.Identity, client port.Client, ratePerMinuteCents int64) error {
	sh := p.shard(identity.Key())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.parties[identity.Key()]; ok {
		return domain.ErrAlreadyRegistered
	}
	sh.parties[identity.Key()] = &party{
		identity:           identity,
		client:             client,
		ratePerMinuteCents: ratePerMinuteCents,
	}
	log.Info().Str("identity", identity.Key()).Msg("party registered")
	return nil
}

// Unregister removes the party and, if it was busy, synchronously ends its
// session. The terminator call happens outside the shard lock.
func (p *Presence) Unregister(identity domain.Identity) {
	sh := p.shard(identity.Key())
	sh.mu.Lock()
	pt, ok := sh.parties[identity.Key()]
	if ok {
		delete(sh.parties, identity.Key())
	}
	sh.mu.Unlock()
	if !ok {
		return
	}
	log.Info().Str("identity", identity.Key()).Bool("busy", pt.busy).Msg("party unregistered")
	if p.terminator != nil {
		p.terminator.PartyDisconnected(identity)
	}
}

func (p *Presence) Lookup(identity domain.Identity) (port.Client, error) {
	sh := p.shard(identity.Key())
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	pt, ok := sh.parties[identity.Key()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return pt.client, nil
}

// SetBusy flips the occupied flag. A missing party is ignored: disconnects
// race with session teardown and the flag dies with the registration.
func (p *Presence) SetBusy(identity domain.Identity, busy bool) {
	sh := p.shard(identity.Key())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if pt, ok := sh.parties[identity.Key()]; ok {
		pt.busy = busy
	}
}

func (p *Presence) IsBusy(identity domain.Identity) bool {
	sh := p.shard(identity.Key())
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	pt, ok := sh.parties[identity.Key()]
	return ok && pt.busy
}

// HostRate returns the per-minute rate the host registered with.
func (p *Presence) HostRate(hostID domain.UserID) (int64, error) {
	identity := domain.Identity{Role: domain.RoleHost, UserID: hostID}
	sh := p.shard(identity.Key())
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	pt, ok := sh.parties[identity.Key()]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return pt.ratePerMinuteCents, nil
}

// Send is the registry-routed push used by billing and settlement: resolve
// and forward, best effort. Returns ErrPeerUnreachable if the party is gone.
func (p *Presence) Send(identity domain.Identity, ev domain.Envelope) error {
	client, err := p.Lookup(identity)
	if err != nil {
		return domain.ErrPeerUnreachable
	}
	if err := client.Send(ev); err != nil {
		return domain.ErrPeerUnreachable
	}
	return nil
}
