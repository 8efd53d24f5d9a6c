package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pumpfun-ingest/core/internal/domain"
)

// PriceSnapshotRepository is the C9 collaborator backing the
// price_snapshots_unified table: probabilistically sampled price points,
// append-only and idempotent on (mint_address, slot).
type PriceSnapshotRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewPriceSnapshotRepository(db *DB, logger *slog.Logger) *PriceSnapshotRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceSnapshotRepository{db: db, logger: logger.With("component", "price_snapshot_repository")}
}

func (r *PriceSnapshotRepository) InsertBatch(ctx context.Context, snapshots []*domain.PriceSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewClassifiedError(domain.ClassDbTransient, fmt.Errorf("begin snapshot batch: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_snapshots_unified (
			mint_address, slot, price_sol, price_usd, market_cap_usd,
			sol_reserves, token_reserves, progress, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (mint_address, slot) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range snapshots {
		if _, err := stmt.ExecContext(ctx,
			s.MintAddress, s.Slot, s.PriceSol, s.PriceUsd, s.MarketCapUsd,
			s.SolReserves, s.TokenReserves, s.Progress,
		); err != nil {
			return domain.NewClassifiedError(domain.ClassDbTransient, fmt.Errorf("insert snapshot %s@%d: %w", s.MintAddress, s.Slot, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.NewClassifiedError(domain.ClassDbTransient, fmt.Errorf("commit snapshot batch: %w", err))
	}
	return nil
}

func (r *PriceSnapshotRepository) FindByMint(ctx context.Context, mint domain.MintAddress, since int64) ([]*domain.PriceSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT mint_address, slot, price_sol, price_usd, market_cap_usd,
			   sol_reserves, token_reserves, progress, created_at
		FROM price_snapshots_unified
		WHERE mint_address = $1 AND created_at >= $2
		ORDER BY slot ASC
	`, mint, time.Unix(since, 0))
	if err != nil {
		return nil, fmt.Errorf("query snapshots by mint: %w", err)
	}
	defer rows.Close()

	var out []*domain.PriceSnapshot
	for rows.Next() {
		s := &domain.PriceSnapshot{}
		if err := rows.Scan(
			&s.MintAddress, &s.Slot, &s.PriceSol, &s.PriceUsd, &s.MarketCapUsd,
			&s.SolReserves, &s.TokenReserves, &s.Progress, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
