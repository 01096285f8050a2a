package port

import (
	"context"
	"time"

	"github.com/auraline/readings/internal/core/domain"
)

// SettlementStore persists the durable session records. Append is
// idempotent per session id; a second append for the same session must be
// rejected, not overwrite.
type SettlementStore interface {
	Append(ctx context.Context, rec domain.SettlementRecord) error
	Get(ctx context.Context, sessionID domain.SessionID) (domain.SettlementRecord, error)
	Close() error
}

type JournalEntryKind string

const (
	JournalCreated  JournalEntryKind = "created"
	JournalAccepted JournalEntryKind = "accepted"
	JournalTick     JournalEntryKind = "tick"
	JournalClosed   JournalEntryKind = "closed"
)

// JournalEntry snapshots a session at a transition. The snapshot carries the
// full session so recovery needs only the latest entry per id.
type JournalEntry struct {
	Kind    JournalEntryKind
	At      time.Time
	Session domain.Session
}

// SessionJournal is the write-ahead log backing crash recovery. Append must
// be durable before the transition is acted on externally.
type SessionJournal interface {
	Append(ctx context.Context, e JournalEntry) error
	// Replay yields the latest snapshot per session id, oldest first.
	Replay(ctx context.Context) ([]JournalEntry, error)
	Close() error
}
