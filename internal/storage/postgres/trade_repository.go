package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pumpfun-ingest/core/internal/domain"
)

// TradeRepository is the C9 collaborator backing the append-only
// trades_unified table. Trades are idempotent on signature: a duplicate
// delivery from a reconnected stream is silently absorbed rather than
// rejected, since StreamManager's resume window can legitimately redeliver
// a handful of already-seen slots.
type TradeRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewTradeRepository(db *DB, logger *slog.Logger) *TradeRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &TradeRepository{db: db, logger: logger.With("component", "trade_repository")}
}

func (r *TradeRepository) InsertBatch(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewClassifiedError(domain.ClassDbTransient, fmt.Errorf("begin trade batch: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades_unified (
			signature, mint_address, program, trade_type, user_address,
			sol_amount, token_amount, price_sol, price_usd, market_cap_usd, volume_usd,
			virtual_sol_reserves, virtual_token_reserves, progress, slot, block_time
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		ON CONFLICT (signature) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare trade insert: %w", err)
	}
	defer stmt.Close()

	// Trades are inserted in arrival order within the transaction so a
	// crash mid-batch never commits a later trade without an earlier one
	// that shares the same mint.
	affectedMints := make(map[domain.MintAddress]struct{}, len(trades))
	for _, t := range trades {
		if _, err := stmt.ExecContext(ctx,
			t.Signature, t.MintAddress, t.Program, t.TradeType, t.UserAddress,
			t.SolAmount, t.TokenAmount, t.PriceSol, t.PriceUsd, t.MarketCapUsd, t.VolumeUsd,
			t.VirtualSolReserves, t.VirtualTokenReserves, t.Progress, t.Slot, t.BlockTime,
		); err != nil {
			return domain.NewClassifiedError(domain.ClassDbTransient, fmt.Errorf("insert trade %s: %w", t.Signature, err))
		}
		affectedMints[t.MintAddress] = struct{}{}
	}

	for mint := range affectedMints {
		if _, err := tx.ExecContext(ctx, `SELECT update_token_stats($1)`, mint); err != nil {
			return domain.NewClassifiedError(domain.ClassDbTransient, fmt.Errorf("update token stats %s: %w", mint, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.NewClassifiedError(domain.ClassDbTransient, fmt.Errorf("commit trade batch: %w", err))
	}
	return nil
}

func (r *TradeRepository) FindByMint(ctx context.Context, mint domain.MintAddress, limit, offset int) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT signature, mint_address, program, trade_type, user_address,
			   sol_amount, token_amount, price_sol, price_usd, market_cap_usd, volume_usd,
			   virtual_sol_reserves, virtual_token_reserves, progress, slot, block_time
		FROM trades_unified
		WHERE mint_address = $1
		ORDER BY slot DESC
		LIMIT $2 OFFSET $3
	`, mint, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query trades by mint: %w", err)
	}
	defer rows.Close()

	var out []*domain.Trade
	for rows.Next() {
		t := &domain.Trade{}
		if err := rows.Scan(
			&t.Signature, &t.MintAddress, &t.Program, &t.TradeType, &t.UserAddress,
			&t.SolAmount, &t.TokenAmount, &t.PriceSol, &t.PriceUsd, &t.MarketCapUsd, &t.VolumeUsd,
			&t.VirtualSolReserves, &t.VirtualTokenReserves, &t.Progress, &t.Slot, &t.BlockTime,
		); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetVolumeByPeriod buckets trade volume across every mint between start and
// end, for the platform-wide volume chart rather than any single token's.
func (r *TradeRepository) GetVolumeByPeriod(ctx context.Context, start, end time.Time, bucket string) ([]domain.VolumeBucket, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date_trunc($1, block_time) AS bucket_start, SUM(volume_usd), COUNT(*)
		FROM trades_unified
		WHERE block_time >= $2 AND block_time < $3
		GROUP BY bucket_start
		ORDER BY bucket_start
	`, bucket, start, end)
	if err != nil {
		return nil, fmt.Errorf("query volume by period: %w", err)
	}
	defer rows.Close()

	var out []domain.VolumeBucket
	for rows.Next() {
		var b domain.VolumeBucket
		if err := rows.Scan(&b.BucketStart, &b.VolumeUsd, &b.TradeCount); err != nil {
			return nil, fmt.Errorf("scan volume bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetRecentTrades returns the most recent trades across all mints, newest
// slot first, for the "live trades" feed.
func (r *TradeRepository) GetRecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT signature, mint_address, program, trade_type, user_address,
			   sol_amount, token_amount, price_sol, price_usd, market_cap_usd, volume_usd,
			   virtual_sol_reserves, virtual_token_reserves, progress, slot, block_time
		FROM trades_unified
		ORDER BY slot DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent trades: %w", err)
	}
	defer rows.Close()

	var out []*domain.Trade
	for rows.Next() {
		t := &domain.Trade{}
		if err := rows.Scan(
			&t.Signature, &t.MintAddress, &t.Program, &t.TradeType, &t.UserAddress,
			&t.SolAmount, &t.TokenAmount, &t.PriceSol, &t.PriceUsd, &t.MarketCapUsd, &t.VolumeUsd,
			&t.VirtualSolReserves, &t.VirtualTokenReserves, &t.Progress, &t.Slot, &t.BlockTime,
		); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetHighValueTrades returns trades at or above a minimum USD volume,
// largest first, for whale-watch style consumers.
func (r *TradeRepository) GetHighValueTrades(ctx context.Context, minVolumeUsd decimal.Decimal, limit int) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT signature, mint_address, program, trade_type, user_address,
			   sol_amount, token_amount, price_sol, price_usd, market_cap_usd, volume_usd,
			   virtual_sol_reserves, virtual_token_reserves, progress, slot, block_time
		FROM trades_unified
		WHERE volume_usd >= $1
		ORDER BY volume_usd DESC
		LIMIT $2
	`, minVolumeUsd, limit)
	if err != nil {
		return nil, fmt.Errorf("query high value trades: %w", err)
	}
	defer rows.Close()

	var out []*domain.Trade
	for rows.Next() {
		t := &domain.Trade{}
		if err := rows.Scan(
			&t.Signature, &t.MintAddress, &t.Program, &t.TradeType, &t.UserAddress,
			&t.SolAmount, &t.TokenAmount, &t.PriceSol, &t.PriceUsd, &t.MarketCapUsd, &t.VolumeUsd,
			&t.VirtualSolReserves, &t.VirtualTokenReserves, &t.Progress, &t.Slot, &t.BlockTime,
		); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTopTraders ranks wallets by total volume across every mint, for the
// platform-wide leaderboard rather than a single token's trader list.
func (r *TradeRepository) GetTopTraders(ctx context.Context, limit int) ([]domain.TraderVolume, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_address, SUM(volume_usd), COUNT(*)
		FROM trades_unified
		GROUP BY user_address
		ORDER BY SUM(volume_usd) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top traders: %w", err)
	}
	defer rows.Close()

	var out []domain.TraderVolume
	for rows.Next() {
		var tv domain.TraderVolume
		if err := rows.Scan(&tv.UserAddress, &tv.VolumeUsd, &tv.TradeCount); err != nil {
			return nil, fmt.Errorf("scan trader volume: %w", err)
		}
		out = append(out, tv)
	}
	return out, rows.Err()
}
