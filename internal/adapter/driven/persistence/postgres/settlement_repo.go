package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/auraline/readings/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SettlementRepository persists settlement records in Postgres.
type SettlementRepository struct {
	pool *pgxpool.Pool
}

func NewSettlementRepository(ctx context.Context, databaseURL string) (*SettlementRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	r := &SettlementRepository{pool: pool}
	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return r, nil
}

func (r *SettlementRepository) runMigrations(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS settlements (
			record_id TEXT NOT NULL,
			session_id UUID PRIMARY KEY,
			host_id UUID NOT NULL,
			payer_id UUID NOT NULL,
			kind TEXT NOT NULL,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ NOT NULL,
			total_seconds BIGINT NOT NULL,
			total_cost_cents BIGINT NOT NULL,
			host_earned_cents BIGINT NOT NULL,
			platform_earned_cents BIGINT NOT NULL,
			end_reason TEXT NOT NULL,
			shortfall BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_settlements_host_id ON settlements(host_id);
		CREATE INDEX IF NOT EXISTS idx_settlements_payer_id ON settlements(payer_id);
	`)
	return err
}

// Append inserts the record. session_id is the primary key and conflicts do
// nothing: the record is immutable and a duplicate append must not rewrite
// it.
func (r *SettlementRepository) Append(ctx context.Context, rec domain.SettlementRecord) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO settlements (
			record_id, session_id, host_id, payer_id, kind,
			started_at, ended_at, total_seconds, total_cost_cents,
			host_earned_cents, platform_earned_cents, end_reason, shortfall
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (session_id) DO NOTHING
	`,
		rec.RecordID, rec.SessionID.String(), rec.HostID.String(), rec.PayerID.String(), string(rec.Kind),
		rec.StartedAt, rec.EndedAt, rec.TotalSeconds, rec.TotalCostCents,
		rec.HostEarnedCents, rec.PlatformEarnedCents, string(rec.EndReason), rec.Shortfall,
	)
	if err != nil {
		return fmt.Errorf("failed to append settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *SettlementRepository) Get(ctx context.Context, sessionID domain.SessionID) (domain.SettlementRecord, error) {
	var (
		rec                 domain.SettlementRecord
		sid, hid, pid, kind string
		reason              string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT record_id, session_id, host_id, payer_id, kind,
			started_at, ended_at, total_seconds, total_cost_cents,
			host_earned_cents, platform_earned_cents, end_reason, shortfall
		FROM settlements WHERE session_id = $1
	`, sessionID.String()).Scan(
		&rec.RecordID, &sid, &hid, &pid, &kind,
		&rec.StartedAt, &rec.EndedAt, &rec.TotalSeconds, &rec.TotalCostCents,
		&rec.HostEarnedCents, &rec.PlatformEarnedCents, &reason, &rec.Shortfall,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SettlementRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SettlementRecord{}, fmt.Errorf("failed to read settlement: %w", err)
	}
	if rec.SessionID, err = domain.ParseSessionID(sid); err != nil {
		return domain.SettlementRecord{}, err
	}
	if rec.HostID, err = domain.ParseUserID(hid); err != nil {
		return domain.SettlementRecord{}, err
	}
	if rec.PayerID, err = domain.ParseUserID(pid); err != nil {
		return domain.SettlementRecord{}, err
	}
	rec.Kind = domain.SessionKind(kind)
	rec.EndReason = domain.EndReason(reason)
	return rec, nil
}

func (r *SettlementRepository) Close() error {
	r.pool.Close()
	return nil
}
