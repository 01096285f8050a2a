package service

import (
	"context"
	"encoding/json"

	"github.com/auraline/readings/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// Relay forwards negotiation and chat payloads between the two parties of a
// session. Payload kinds are opaque here: offers, answers, candidates and
// chat all take the same path. A missed delivery is reported to the sender
// only and never terminates the session.
type Relay struct {
	sessions *Sessions
	presence *Presence
}

func NewRelay(sessions *Sessions, presence *Presence) *Relay {
	return &Relay{sessions: sessions, presence: presence}
}

func (r *Relay) Relay(ctx context.Context, sessionID domain.SessionID, from domain.Identity, kind domain.EventType, payload json.RawMessage) error {
	if !kind.Relayable() {
		return domain.ErrInvalidTransition
	}
	sess, err := r.sessions.Snapshot(sessionID)
	if err != nil {
		return err
	}
	counterpart, err := sess.Counterpart(from)
	if err != nil {
		return domain.ErrNotFound
	}
	client, err := r.presence.Lookup(counterpart)
	if err != nil {
		return domain.ErrPeerUnreachable
	}
	if err := client.Send(domain.NewRelayEvent(kind, sessionID, from, payload)); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID.String()).Str("to", counterpart.Key()).Msg("relay delivery failed")
		return domain.ErrPeerUnreachable
	}
	return nil
}
