package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/auraline/readings/internal/core/domain"
	"github.com/auraline/readings/internal/core/port"
	_ "github.com/mattn/go-sqlite3"
)

// Journal is the sqlite-backed session write-ahead log. Every state
// transition appends a full session snapshot; recovery only needs the
// latest snapshot per session id.
type Journal struct {
	db *sql.DB
}

func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open session journal: %w", err)
	}
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate session journal: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_journal (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			at TIMESTAMP NOT NULL,
			snapshot TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_journal_session_id ON session_journal(session_id);
	`)
	return err
}

// snapshotDTO is the serialized session; field names are part of the
// journal format and must stay stable across versions.
type snapshotDTO struct {
	ID                 string `json:"id"`
	HostID             string `json:"host_id"`
	PayerID            string `json:"payer_id"`
	Kind               string `json:"kind"`
	State              string `json:"state"`
	RatePerMinuteCents int64  `json:"rate_per_minute_cents"`
	StartedAt          int64  `json:"started_at_unix"`
	LastBillTickAt     int64  `json:"last_bill_tick_at_unix"`
	TickSeq            uint64 `json:"tick_seq"`
	BilledSeconds      int64  `json:"billed_seconds"`
	AccruedCostCents   int64  `json:"accrued_cost_cents"`
	EndedAt            int64  `json:"ended_at_unix"`
	EndReason          string `json:"end_reason"`
}

func toDTO(s domain.Session) snapshotDTO {
	dto := snapshotDTO{
		ID:                 s.ID.String(),
		HostID:             s.HostID.String(),
		PayerID:            s.PayerID.String(),
		Kind:               string(s.Kind),
		State:              string(s.State),
		RatePerMinuteCents: s.RatePerMinuteCents,
		TickSeq:            s.TickSeq,
		BilledSeconds:      s.BilledSeconds,
		AccruedCostCents:   s.AccruedCostCents,
		EndReason:          string(s.EndReason),
	}
	if !s.StartedAt.IsZero() {
		dto.StartedAt = s.StartedAt.Unix()
	}
	if !s.LastBillTickAt.IsZero() {
		dto.LastBillTickAt = s.LastBillTickAt.Unix()
	}
	if !s.EndedAt.IsZero() {
		dto.EndedAt = s.EndedAt.Unix()
	}
	return dto
}

func fromDTO(dto snapshotDTO) (domain.Session, error) {
	id, err := domain.ParseSessionID(dto.ID)
	if err != nil {
		return domain.Session{}, err
	}
	hostID, err := domain.ParseUserID(dto.HostID)
	if err != nil {
		return domain.Session{}, err
	}
	payerID, err := domain.ParseUserID(dto.PayerID)
	if err != nil {
		return domain.Session{}, err
	}
	s := domain.Session{
		ID:                 id,
		HostID:             hostID,
		PayerID:            payerID,
		Kind:               domain.SessionKind(dto.Kind),
		State:              domain.SessionState(dto.State),
		RatePerMinuteCents: dto.RatePerMinuteCents,
		TickSeq:            dto.TickSeq,
		BilledSeconds:      dto.BilledSeconds,
		AccruedCostCents:   dto.AccruedCostCents,
		EndReason:          domain.EndReason(dto.EndReason),
	}
	if dto.StartedAt != 0 {
		s.StartedAt = unix(dto.StartedAt)
	}
	if dto.LastBillTickAt != 0 {
		s.LastBillTickAt = unix(dto.LastBillTickAt)
	}
	if dto.EndedAt != 0 {
		s.EndedAt = unix(dto.EndedAt)
	}
	return s, nil
}

func unix(v int64) time.Time {
	return time.Unix(v, 0)
}

func (j *Journal) Append(ctx context.Context, e port.JournalEntry) error {
	snapshot, err := json.Marshal(toDTO(e.Session))
	if err != nil {
		return fmt.Errorf("failed to encode journal snapshot: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO session_journal (session_id, kind, at, snapshot) VALUES (?, ?, ?, ?)
	`, e.Session.ID.String(), string(e.Kind), e.At, string(snapshot))
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// Replay returns the latest snapshot per session id, oldest first.
func (j *Journal) Replay(ctx context.Context) ([]port.JournalEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT jl.kind, jl.at, jl.snapshot
		FROM session_journal jl
		JOIN (
			SELECT session_id, MAX(seq) AS max_seq
			FROM session_journal
			GROUP BY session_id
		) latest ON jl.session_id = latest.session_id AND jl.seq = latest.max_seq
		ORDER BY jl.seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to replay journal: %w", err)
	}
	defer rows.Close()

	var entries []port.JournalEntry
	for rows.Next() {
		var (
			e   port.JournalEntry
			raw string
		)
		if err := rows.Scan((*string)(&e.Kind), &e.At, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		var dto snapshotDTO
		if err := json.Unmarshal([]byte(raw), &dto); err != nil {
			return nil, fmt.Errorf("failed to decode journal snapshot: %w", err)
		}
		if e.Session, err = fromDTO(dto); err != nil {
			return nil, fmt.Errorf("failed to restore journal snapshot: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
