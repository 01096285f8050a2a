package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/auraline/readings/internal/core/domain"
)

func TestRelayForwardsVerbatim(t *testing.T) {
	f := newFixture(t)
	relay := NewRelay(f.sessions, f.presence)
	id, host, _, _, payerID := f.startActive(t, 500, 10000)

	payload := json.RawMessage(`{"sdp":"v=0 o=- 46117 2"}`)
	from := domain.Identity{Role: domain.RolePayer, UserID: payerID}
	if err := relay.Relay(context.Background(), id, from, domain.EventNegotiationOffer, payload); err != nil {
		t.Fatalf("relay: %v", err)
	}

	host.mu.Lock()
	defer host.mu.Unlock()
	var got *domain.Envelope
	for i := range host.events {
		if host.events[i].Type == domain.EventNegotiationOffer {
			got = &host.events[i]
		}
	}
	if got == nil {
		t.Fatal("host did not receive the offer")
	}
	if string(got.Payload) != string(payload) {
		t.Errorf("payload = %s, want forwarded verbatim", got.Payload)
	}
	if got.From == nil || got.From.UserID != payerID.String() || got.From.Role != "payer" {
		t.Errorf("relay must tag the sender identity, got %+v", got.From)
	}
	if got.SessionID != id.String() {
		t.Errorf("relay must tag the session id, got %s", got.SessionID)
	}
}

func TestRelayChatFollowsSamePath(t *testing.T) {
	f := newFixture(t)
	relay := NewRelay(f.sessions, f.presence)
	id, _, payer, hostID, _ := f.startActive(t, 500, 10000)

	from := domain.Identity{Role: domain.RoleHost, UserID: hostID}
	if err := relay.Relay(context.Background(), id, from, domain.EventChatMessage, json.RawMessage(`{"text":"hello"}`)); err != nil {
		t.Fatalf("relay chat: %v", err)
	}
	if payer.countType(domain.EventChatMessage) != 1 {
		t.Error("payer did not receive the chat message")
	}
}

func TestRelayUnreachableCounterpartDoesNotEndSession(t *testing.T) {
	f := newFixture(t)
	relay := NewRelay(f.sessions, f.presence)
	id, host, _, _, payerID := f.startActive(t, 500, 10000)

	// break the host's connection without disconnecting it
	host.mu.Lock()
	host.failSend = true
	host.mu.Unlock()

	from := domain.Identity{Role: domain.RolePayer, UserID: payerID}
	err := relay.Relay(context.Background(), id, from, domain.EventChatMessage, json.RawMessage(`{"text":"anyone?"}`))
	if !errors.Is(err, domain.ErrPeerUnreachable) {
		t.Errorf("relay = %v, want ErrPeerUnreachable", err)
	}

	snap, err := f.sessions.Snapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != domain.StateActive {
		t.Errorf("state = %s: one missed relay must not terminate the session", snap.State)
	}
}

func TestRelayEndedSessionRejected(t *testing.T) {
	f := newFixture(t)
	relay := NewRelay(f.sessions, f.presence)
	id, _, _, hostID, payerID := f.startActive(t, 500, 10000)

	if err := f.sessions.Stop(context.Background(), id, domain.Identity{Role: domain.RoleHost, UserID: hostID}); err != nil {
		t.Fatalf("stop: %v", err)
	}

	from := domain.Identity{Role: domain.RolePayer, UserID: payerID}
	err := relay.Relay(context.Background(), id, from, domain.EventChatMessage, json.RawMessage(`{"text":"late"}`))
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("relay to ended session = %v, want ErrInvalidTransition", err)
	}
}

func TestRelayRejectsOutsiders(t *testing.T) {
	f := newFixture(t)
	relay := NewRelay(f.sessions, f.presence)
	id, _, _, _, _ := f.startActive(t, 500, 10000)

	stranger, strangerID := f.connect(t, domain.RolePayer, 0)
	_ = stranger
	from := domain.Identity{Role: domain.RolePayer, UserID: strangerID}
	err := relay.Relay(context.Background(), id, from, domain.EventChatMessage, json.RawMessage(`{"text":"hi"}`))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("relay from non-participant = %v, want ErrNotFound", err)
	}
}
