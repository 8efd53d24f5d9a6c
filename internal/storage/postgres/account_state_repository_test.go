package postgres

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/pumpfun-ingest/core/internal/domain"
)

func TestAccountStateRepositoryInsertBatchCommits(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountStateRepository(db, nil)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO account_states_unified")
	mock.ExpectExec("INSERT INTO account_states_unified").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	states := []*domain.AccountState{{MintAddress: domain.MintAddress("mint1"), Program: domain.ProgramBondingCurve, Slot: 1}}
	if err := repo.InsertBatch(context.Background(), states); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled expectations: %v", err)
	}
}

func TestAccountStateRepositoryFindLatestNoRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountStateRepository(db, nil)

	cols := []string{"mint_address", "program", "slot", "sol_reserves", "token_reserves", "bonding_curve_complete", "created_at"}
	mock.ExpectQuery("SELECT mint_address").
		WithArgs(domain.MintAddress("mint1"), domain.ProgramBondingCurve).
		WillReturnRows(sqlmock.NewRows(cols))

	state, err := repo.FindLatest(context.Background(), domain.MintAddress("mint1"), domain.ProgramBondingCurve)
	if err != nil {
		t.Fatalf("FindLatest() error = %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil state for no rows, got %+v", state)
	}
}
