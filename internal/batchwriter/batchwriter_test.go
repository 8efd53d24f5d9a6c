package batchwriter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pumpfun-ingest/core/internal/domain"
)

type fakeTokenRepo struct {
	mu       sync.Mutex
	upserts  []*domain.Token
	failNext bool
}

func (f *fakeTokenRepo) Upsert(ctx context.Context, t *domain.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("transient failure")
	}
	f.upserts = append(f.upserts, t)
	return nil
}
func (f *fakeTokenRepo) FindByMint(ctx context.Context, mint domain.MintAddress) (*domain.Token, error) {
	return nil, nil
}
func (f *fakeTokenRepo) FindByFilter(ctx context.Context, filter domain.TokenFilter, limit, offset int) ([]*domain.Token, error) {
	return nil, nil
}
func (f *fakeTokenRepo) GetStatistics(ctx context.Context) (*domain.TokenStatistics, error) {
	return nil, nil
}

type fakeTradeRepo struct {
	mu        sync.Mutex
	batches   [][]*domain.Trade
	failNext  bool
}

func (f *fakeTradeRepo) InsertBatch(ctx context.Context, trades []*domain.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("transient failure")
	}
	cp := append([]*domain.Trade{}, trades...)
	f.batches = append(f.batches, cp)
	return nil
}
func (f *fakeTradeRepo) FindByMint(ctx context.Context, mint domain.MintAddress, limit, offset int) ([]*domain.Trade, error) {
	return nil, nil
}
func (f *fakeTradeRepo) GetRecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	return nil, nil
}
func (f *fakeTradeRepo) GetHighValueTrades(ctx context.Context, minVolumeUsd decimal.Decimal, limit int) ([]*domain.Trade, error) {
	return nil, nil
}
func (f *fakeTradeRepo) GetVolumeByPeriod(ctx context.Context, start, end time.Time, bucket string) ([]domain.VolumeBucket, error) {
	return nil, nil
}
func (f *fakeTradeRepo) GetTopTraders(ctx context.Context, limit int) ([]domain.TraderVolume, error) {
	return nil, nil
}

type fakeSnapshotRepo struct{}

func (f *fakeSnapshotRepo) InsertBatch(ctx context.Context, snaps []*domain.PriceSnapshot) error {
	return nil
}
func (f *fakeSnapshotRepo) FindByMint(ctx context.Context, mint domain.MintAddress, since int64) ([]*domain.PriceSnapshot, error) {
	return nil, nil
}

type fakeStateRepo struct{}

func (f *fakeStateRepo) InsertBatch(ctx context.Context, states []*domain.AccountState) error {
	return nil
}
func (f *fakeStateRepo) FindLatest(ctx context.Context, mint domain.MintAddress, program domain.Program) (*domain.AccountState, error) {
	return nil, nil
}

func TestEnqueueTradeFlushesAtBatchSize(t *testing.T) {
	tokens := &fakeTokenRepo{}
	trades := &fakeTradeRepo{}
	w := New(tokens, trades, &fakeSnapshotRepo{}, &fakeStateRepo{}, 3, time.Hour, nil)

	for i := 0; i < 3; i++ {
		w.EnqueueTrade(&domain.Trade{Signature: domain.Signature("sig")})
	}

	trades.mu.Lock()
	defer trades.mu.Unlock()
	if len(trades.batches) != 1 || len(trades.batches[0]) != 3 {
		t.Fatalf("expected one flushed batch of 3, got %v", trades.batches)
	}
}

func TestEnqueueTokenCollapsesByMint(t *testing.T) {
	tokens := &fakeTokenRepo{}
	w := New(tokens, &fakeTradeRepo{}, &fakeSnapshotRepo{}, &fakeStateRepo{}, 50, time.Hour, nil)

	mint := domain.MintAddress("mint1")
	w.EnqueueToken(&domain.Token{MintAddress: mint, Symbol: "OLD"})
	w.EnqueueToken(&domain.Token{MintAddress: mint, Symbol: "NEW"})

	w.flushTokens(context.Background())

	tokens.mu.Lock()
	defer tokens.mu.Unlock()
	if len(tokens.upserts) != 1 {
		t.Fatalf("expected exactly one upsert for collapsed mint, got %d", len(tokens.upserts))
	}
	if tokens.upserts[0].Symbol != "NEW" {
		t.Fatalf("expected latest write to win, got %s", tokens.upserts[0].Symbol)
	}
}

func TestFlushTradesRequeuesOnError(t *testing.T) {
	trades := &fakeTradeRepo{failNext: true}
	w := New(&fakeTokenRepo{}, trades, &fakeSnapshotRepo{}, &fakeStateRepo{}, 50, time.Hour, nil)

	w.EnqueueTrade(&domain.Trade{Signature: domain.Signature("sig1")})
	w.flushTrades(context.Background())

	w.mu.Lock()
	pending := len(w.pendingTrade)
	w.mu.Unlock()
	if pending != 1 {
		t.Fatalf("expected failed batch to be requeued, pending = %d", pending)
	}

	// Second attempt succeeds.
	w.flushTrades(context.Background())
	w.mu.Lock()
	pending = len(w.pendingTrade)
	w.mu.Unlock()
	if pending != 0 {
		t.Fatalf("expected requeued batch to flush successfully, pending = %d", pending)
	}
}

func TestRunFlushesOnTickAndOnShutdown(t *testing.T) {
	tokens := &fakeTokenRepo{}
	w := New(tokens, &fakeTradeRepo{}, &fakeSnapshotRepo{}, &fakeStateRepo{}, 50, 10*time.Millisecond, nil)

	w.EnqueueToken(&domain.Token{MintAddress: domain.MintAddress("mint1")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after context cancel")
	}

	tokens.mu.Lock()
	defer tokens.mu.Unlock()
	if len(tokens.upserts) != 1 {
		t.Fatalf("expected token flushed by tick or shutdown, got %d upserts", len(tokens.upserts))
	}
}
