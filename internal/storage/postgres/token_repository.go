package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pumpfun-ingest/core/internal/domain"
)

// TokenRepository is the C9 collaborator backing the tokens_unified table.
// Upsert merges symbol, name, uri, creator, pool address and graduation
// signature with COALESCE so an empty incoming value never clobbers a
// stored one, keeps the earliest non-null threshold and graduation
// timestamps, and never unsets graduated_to_amm. The latest_* price and
// reserve columns and current_program take the incoming values; has_meta,
// supply, bc_key and the first_* columns keep the values of the first
// insert. The whole update is skipped when the incoming latest_update_slot
// is older than the stored one.
type TokenRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewTokenRepository(db *DB, logger *slog.Logger) *TokenRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenRepository{db: db, logger: logger.With("component", "token_repository")}
}

func (r *TokenRepository) Upsert(ctx context.Context, t *domain.Token) error {
	query := `
		INSERT INTO tokens_unified (
			mint_address, symbol, name, uri, creator, has_meta, supply, bc_key,
			first_program, first_seen_slot, first_price_sol, first_price_usd, first_market_cap_usd,
			latest_price_sol, latest_price_usd, latest_market_cap_usd,
			latest_sol_reserves, latest_token_reserves, latest_progress, latest_update_slot,
			current_program, graduated_to_amm, amm_pool_address, graduation_signature,
			threshold_crossed_at, graduation_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23, $24,
			$25, $26,
			NOW(), NOW()
		)
		ON CONFLICT (mint_address) DO UPDATE SET
			symbol                 = COALESCE(NULLIF(EXCLUDED.symbol, ''), tokens_unified.symbol),
			name                   = COALESCE(NULLIF(EXCLUDED.name, ''), tokens_unified.name),
			uri                    = COALESCE(NULLIF(EXCLUDED.uri, ''), tokens_unified.uri),
			creator                = COALESCE(NULLIF(EXCLUDED.creator, ''), tokens_unified.creator),
			latest_price_sol       = EXCLUDED.latest_price_sol,
			latest_price_usd       = EXCLUDED.latest_price_usd,
			latest_market_cap_usd  = EXCLUDED.latest_market_cap_usd,
			latest_sol_reserves    = EXCLUDED.latest_sol_reserves,
			latest_token_reserves  = EXCLUDED.latest_token_reserves,
			latest_progress        = EXCLUDED.latest_progress,
			latest_update_slot     = EXCLUDED.latest_update_slot,
			current_program        = EXCLUDED.current_program,
			graduated_to_amm       = tokens_unified.graduated_to_amm OR EXCLUDED.graduated_to_amm,
			amm_pool_address       = COALESCE(NULLIF(EXCLUDED.amm_pool_address, ''), tokens_unified.amm_pool_address),
			graduation_signature   = COALESCE(NULLIF(EXCLUDED.graduation_signature, ''), tokens_unified.graduation_signature),
			threshold_crossed_at   = COALESCE(tokens_unified.threshold_crossed_at, EXCLUDED.threshold_crossed_at),
			graduation_at          = COALESCE(tokens_unified.graduation_at, EXCLUDED.graduation_at),
			updated_at             = NOW()
		WHERE tokens_unified.latest_update_slot <= EXCLUDED.latest_update_slot
	`

	_, err := r.db.ExecContext(ctx, query,
		t.MintAddress, t.Symbol, t.Name, t.URI, t.Creator, t.HasMeta, t.Supply, t.BCKey,
		t.FirstProgram, t.FirstSeenSlot, t.FirstPriceSol, t.FirstPriceUsd, t.FirstMarketCap,
		t.LatestPriceSol, t.LatestPriceUsd, t.LatestMarketCap,
		t.LatestSolReserves, t.LatestTokenReserves, t.LatestProgress, t.LatestUpdateSlot,
		t.CurrentProgram, t.GraduatedToAmm, t.AmmPoolAddress, t.GraduationSignature,
		t.ThresholdCrossedAt, t.GraduationAt,
	)
	if err != nil {
		return domain.NewClassifiedError(domain.ClassDbTransient, fmt.Errorf("upsert token %s: %w", t.MintAddress, err))
	}
	return nil
}

func (r *TokenRepository) FindByMint(ctx context.Context, mint domain.MintAddress) (*domain.Token, error) {
	query := `
		SELECT mint_address, symbol, name, uri, creator, has_meta, supply, bc_key,
			   first_program, first_seen_slot, first_price_sol, first_price_usd, first_market_cap_usd,
			   latest_price_sol, latest_price_usd, latest_market_cap_usd,
			   latest_sol_reserves, latest_token_reserves, latest_progress, latest_update_slot,
			   current_program, graduated_to_amm, amm_pool_address, graduation_signature,
			   threshold_crossed_at, graduation_at,
			   created_at, updated_at
		FROM tokens_unified
		WHERE mint_address = $1
	`
	row := r.db.QueryRowContext(ctx, query, mint)
	t := &domain.Token{}
	err := row.Scan(
		&t.MintAddress, &t.Symbol, &t.Name, &t.URI, &t.Creator, &t.HasMeta, &t.Supply, &t.BCKey,
		&t.FirstProgram, &t.FirstSeenSlot, &t.FirstPriceSol, &t.FirstPriceUsd, &t.FirstMarketCap,
		&t.LatestPriceSol, &t.LatestPriceUsd, &t.LatestMarketCap,
		&t.LatestSolReserves, &t.LatestTokenReserves, &t.LatestProgress, &t.LatestUpdateSlot,
		&t.CurrentProgram, &t.GraduatedToAmm, &t.AmmPoolAddress, &t.GraduationSignature,
		&t.ThresholdCrossedAt, &t.GraduationAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan token %s: %w", mint, err)
	}
	return t, nil
}

func (r *TokenRepository) FindByFilter(ctx context.Context, f domain.TokenFilter, limit, offset int) ([]*domain.Token, error) {
	query := `
		SELECT mint_address, symbol, name, uri, creator, has_meta, supply, bc_key,
			   first_program, first_seen_slot, first_price_sol, first_price_usd, first_market_cap_usd,
			   latest_price_sol, latest_price_usd, latest_market_cap_usd,
			   latest_sol_reserves, latest_token_reserves, latest_progress, latest_update_slot,
			   current_program, graduated_to_amm, amm_pool_address, graduation_signature,
			   threshold_crossed_at, graduation_at,
			   created_at, updated_at
		FROM tokens_unified
		WHERE ($1 = '' OR current_program = $1)
		  AND ($2::bool IS NULL OR graduated_to_amm = $2)
		  AND ($3::numeric IS NULL OR latest_market_cap_usd >= $3)
		ORDER BY updated_at DESC
		LIMIT $4 OFFSET $5
	`

	var minCap *decimal.Decimal
	if f.MinMarketCapUsd != nil {
		minCap = f.MinMarketCapUsd
	}

	rows, err := r.db.QueryContext(ctx, query, f.Program, f.GraduatedToAmm, minCap, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query tokens by filter: %w", err)
	}
	defer rows.Close()

	var out []*domain.Token
	for rows.Next() {
		t := &domain.Token{}
		if err := rows.Scan(
			&t.MintAddress, &t.Symbol, &t.Name, &t.URI, &t.Creator, &t.HasMeta, &t.Supply, &t.BCKey,
			&t.FirstProgram, &t.FirstSeenSlot, &t.FirstPriceSol, &t.FirstPriceUsd, &t.FirstMarketCap,
			&t.LatestPriceSol, &t.LatestPriceUsd, &t.LatestMarketCap,
			&t.LatestSolReserves, &t.LatestTokenReserves, &t.LatestProgress, &t.LatestUpdateSlot,
			&t.CurrentProgram, &t.GraduatedToAmm, &t.AmmPoolAddress, &t.GraduationSignature,
			&t.ThresholdCrossedAt, &t.GraduationAt,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TokenRepository) GetStatistics(ctx context.Context) (*domain.TokenStatistics, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE graduated_to_amm),
			COUNT(*) FILTER (WHERE threshold_crossed_at IS NOT NULL),
			COALESCE(EXTRACT(EPOCH FROM PERCENTILE_CONT(0.5) WITHIN GROUP (
				ORDER BY (graduation_at - created_at)
			) FILTER (WHERE graduation_at IS NOT NULL)), 0)
		FROM tokens_unified
	`
	stats := &domain.TokenStatistics{}
	var medianSeconds float64
	row := r.db.QueryRowContext(ctx, query)
	if err := row.Scan(&stats.TotalTokens, &stats.GraduatedTokens, &stats.ThresholdCrossedTokens, &medianSeconds); err != nil {
		return nil, fmt.Errorf("get token statistics: %w", err)
	}
	stats.MedianTimeToGraduation = time.Duration(medianSeconds * float64(time.Second))
	return stats, nil
}
