package postgres

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/pumpfun-ingest/core/internal/domain"
)

func TestPriceSnapshotRepositoryInsertBatchCommits(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPriceSnapshotRepository(db, nil)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO price_snapshots_unified")
	mock.ExpectExec("INSERT INTO price_snapshots_unified").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	snaps := []*domain.PriceSnapshot{{MintAddress: domain.MintAddress("mint1"), Slot: 1}}
	if err := repo.InsertBatch(context.Background(), snaps); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled expectations: %v", err)
	}
}

func TestPriceSnapshotRepositoryInsertBatchEmptyIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPriceSnapshotRepository(db, nil)

	if err := repo.InsertBatch(context.Background(), nil); err != nil {
		t.Fatalf("InsertBatch(nil) error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected DB interaction for empty batch: %v", err)
	}
}
