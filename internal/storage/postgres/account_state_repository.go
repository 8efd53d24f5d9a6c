package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pumpfun-ingest/core/internal/domain"
)

// AccountStateRepository is the C9 collaborator backing the append-only
// account_states_unified table: one row per (mint, program, slot) decode.
type AccountStateRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewAccountStateRepository(db *DB, logger *slog.Logger) *AccountStateRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountStateRepository{db: db, logger: logger.With("component", "account_state_repository")}
}

func (r *AccountStateRepository) InsertBatch(ctx context.Context, states []*domain.AccountState) error {
	if len(states) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewClassifiedError(domain.ClassDbTransient, fmt.Errorf("begin account state batch: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO account_states_unified (
			mint_address, program, slot, sol_reserves, token_reserves, bonding_curve_complete, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (mint_address, program, slot) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare account state insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range states {
		if _, err := stmt.ExecContext(ctx,
			s.MintAddress, s.Program, s.Slot, s.SolReserves, s.TokenReserves, s.BondingCurveComplete,
		); err != nil {
			return domain.NewClassifiedError(domain.ClassDbTransient, fmt.Errorf("insert account state %s@%d: %w", s.MintAddress, s.Slot, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.NewClassifiedError(domain.ClassDbTransient, fmt.Errorf("commit account state batch: %w", err))
	}
	return nil
}

func (r *AccountStateRepository) FindLatest(ctx context.Context, mint domain.MintAddress, program domain.Program) (*domain.AccountState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT mint_address, program, slot, sol_reserves, token_reserves, bonding_curve_complete, created_at
		FROM account_states_unified
		WHERE mint_address = $1 AND program = $2
		ORDER BY slot DESC
		LIMIT 1
	`, mint, program)

	s := &domain.AccountState{}
	err := row.Scan(&s.MintAddress, &s.Program, &s.Slot, &s.SolReserves, &s.TokenReserves, &s.BondingCurveComplete, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan account state: %w", err)
	}
	return s, nil
}
