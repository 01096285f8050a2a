package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/auraline/readings/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// writeWait bounds every outbound write. A peer that stops draining its
// connection must fail the send, not wedge the callers holding session locks.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict once the web origins are finalized
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient implements port.Client over one websocket. The write lock is
// required: billing pushes and relayed traffic hit the same connection from
// different goroutines and gorilla allows a single writer.
type WSClient struct {
	identity  domain.Identity
	writeWait time.Duration
	mu        sync.Mutex
	conn      *websocket.Conn
}

func (c *WSClient) Identity() domain.Identity {
	return c.identity
}

func (c *WSClient) Send(ev domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteJSON(ev)
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}

// ServeWS upgrades the connection, registers the party with presence and
// runs the read loop until disconnect.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, rate, err := h.authenticate(r.URL.Query().Get("token"))
	if err != nil {
		log.Warn().Err(err).Msg("rejected websocket connect")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{identity: identity, conn: conn, writeWait: writeWait}
	l := log.With().Str("identity", identity.Key()).Logger()

	if err := h.Presence.Register(identity, client, rate); err != nil {
		l.Warn().Err(err).Msg("duplicate registration refused")
		client.Send(domain.NewErrorEvent("", err))
		conn.Close()
		return
	}
	l.Info().Msg("party connected")

	defer func() {
		l.Info().Msg("party disconnected")
		h.Presence.Unregister(identity)
		conn.Close()
	}()

	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}
		if err := h.dispatch(r, client, env); err != nil {
			l.Debug().Err(err).Str("type", string(env.Type)).Msg("request failed")
			if sendErr := client.Send(domain.NewErrorEvent(env.SessionID, err)); sendErr != nil {
				break
			}
		}
	}
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

type sessionRequestDTO struct {
	HostID string `json:"host_id"`
	Kind   string `json:"kind"`
}

// dispatch routes one inbound envelope. Errors come back to the sender as
// error events; a bad message never tears the session down.
func (h *Handler) dispatch(r *http.Request, client *WSClient, env domain.Envelope) error {
	ctx := r.Context()
	identity := client.Identity()

	if env.Type.Relayable() {
		sessionID, err := domain.ParseSessionID(env.SessionID)
		if err != nil {
			return domain.ErrNotFound
		}
		return h.Relay.Relay(ctx, sessionID, identity, env.Type, env.Payload)
	}

	switch env.Type {
	case domain.EventSessionRequest:
		if identity.Role != domain.RolePayer {
			return domain.ErrInvalidTransition
		}
		var req sessionRequestDTO
		if err := unmarshalPayload(env.Payload, &req); err != nil {
			return err
		}
		hostID, err := domain.ParseUserID(req.HostID)
		if err != nil {
			return domain.ErrNotFound
		}
		kind, err := domain.ParseSessionKind(req.Kind)
		if err != nil {
			return err
		}
		sess, err := h.Sessions.Create(ctx, identity.UserID, hostID, kind)
		if err != nil {
			return err
		}
		// echo the pending session back so the payer can correlate the id
		return client.Send(domain.NewSessionRequestedEvent(&sess))

	case domain.EventSessionAccept:
		sessionID, err := h.ownSession(env.SessionID, identity)
		if err != nil {
			return err
		}
		return h.Sessions.Accept(ctx, sessionID)

	case domain.EventSessionReject:
		sessionID, err := h.ownSession(env.SessionID, identity)
		if err != nil {
			return err
		}
		return h.Sessions.Reject(ctx, sessionID)

	case domain.EventSessionStop:
		sessionID, err := domain.ParseSessionID(env.SessionID)
		if err != nil {
			return domain.ErrNotFound
		}
		return h.Sessions.Stop(ctx, sessionID, identity)
	}

	return domain.ErrInvalidTransition
}

// ownSession resolves the session id and verifies the caller is the host
// the request was addressed to. Accept/reject are host-only operations.
func (h *Handler) ownSession(raw string, identity domain.Identity) (domain.SessionID, error) {
	if identity.Role != domain.RoleHost {
		return domain.SessionID{}, domain.ErrInvalidTransition
	}
	sessionID, err := domain.ParseSessionID(raw)
	if err != nil {
		return domain.SessionID{}, domain.ErrNotFound
	}
	sess, err := h.Sessions.Snapshot(sessionID)
	if err != nil {
		return domain.SessionID{}, err
	}
	if sess.HostID != identity.UserID {
		return domain.SessionID{}, domain.ErrNotFound
	}
	return sessionID, nil
}
