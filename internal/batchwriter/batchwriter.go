// Package batchwriter implements BatchWriter: the FIFO queue that turns a
// stream of per-event writes into bounded, transactional batch inserts.
package batchwriter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pumpfun-ingest/core/internal/domain"
)

// Writer is the concrete BatchWriter (C7). Trades and account states are
// flushed through their own repositories; tokens go through a dedicated
// upsert path since they're mutable rather than append-only.
type Writer struct {
	tokens    domain.TokenRepository
	trades    domain.TradeRepository
	snapshots domain.PriceSnapshotRepository
	states    domain.AccountStateRepository
	logger    *slog.Logger

	batchSize int
	interval  time.Duration

	mu           sync.Mutex
	pendingToken map[domain.MintAddress]*domain.Token
	pendingTrade []*domain.Trade
	pendingSnap  []*domain.PriceSnapshot
	pendingState []*domain.AccountState
}

func New(
	tokens domain.TokenRepository,
	trades domain.TradeRepository,
	snapshots domain.PriceSnapshotRepository,
	states domain.AccountStateRepository,
	batchSize int,
	interval time.Duration,
	logger *slog.Logger,
) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize < 1 {
		batchSize = 50
	}
	return &Writer{
		tokens:       tokens,
		trades:       trades,
		snapshots:    snapshots,
		states:       states,
		logger:       logger.With("component", "batch_writer"),
		batchSize:    batchSize,
		interval:     interval,
		pendingToken: make(map[domain.MintAddress]*domain.Token),
	}
}

func (w *Writer) EnqueueTrade(t *domain.Trade) {
	w.mu.Lock()
	w.pendingTrade = append(w.pendingTrade, t)
	full := len(w.pendingTrade) >= w.batchSize
	w.mu.Unlock()
	if full {
		w.flushTrades(context.Background())
	}
}

func (w *Writer) EnqueueToken(t *domain.Token) {
	w.mu.Lock()
	// Last write per mint wins within a flush window; intermediate states
	// between flushes are intentionally collapsed, since only the latest
	// view of a token is ever persisted.
	w.pendingToken[t.MintAddress] = t
	full := len(w.pendingToken) >= w.batchSize
	w.mu.Unlock()
	if full {
		w.flushTokens(context.Background())
	}
}

func (w *Writer) EnqueueSnapshot(s *domain.PriceSnapshot) {
	w.mu.Lock()
	w.pendingSnap = append(w.pendingSnap, s)
	full := len(w.pendingSnap) >= w.batchSize
	w.mu.Unlock()
	if full {
		w.flushSnapshots(context.Background())
	}
}

func (w *Writer) EnqueueAccountState(s *domain.AccountState) {
	w.mu.Lock()
	w.pendingState = append(w.pendingState, s)
	full := len(w.pendingState) >= w.batchSize
	w.mu.Unlock()
	if full {
		w.flushStates(context.Background())
	}
}

// Run flushes every queue on a fixed tick until ctx is cancelled, then
// performs one final flush so nothing in flight is lost on shutdown.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flushAll(ctx)
		case <-ctx.Done():
			w.flushAll(context.Background())
			return ctx.Err()
		}
	}
}

func (w *Writer) flushAll(ctx context.Context) {
	w.flushTokens(ctx)
	w.flushTrades(ctx)
	w.flushSnapshots(ctx)
	w.flushStates(ctx)
}

func (w *Writer) flushTokens(ctx context.Context) {
	w.mu.Lock()
	batch := w.pendingToken
	w.pendingToken = make(map[domain.MintAddress]*domain.Token)
	w.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	batchID := uuid.NewString()
	for _, t := range batch {
		if err := w.tokens.Upsert(ctx, t); err != nil {
			w.logger.Error("token upsert failed, requeueing", "batch_id", batchID, "mint", t.MintAddress, "err", err)
			w.mu.Lock()
			w.pendingToken[t.MintAddress] = t
			w.mu.Unlock()
		}
	}
}

func (w *Writer) flushTrades(ctx context.Context) {
	w.mu.Lock()
	batch := w.pendingTrade
	w.pendingTrade = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	if err := w.trades.InsertBatch(ctx, batch); err != nil {
		w.logger.Error("trade batch insert failed, requeueing", "batch_id", uuid.NewString(), "count", len(batch), "err", err)
		w.mu.Lock()
		w.pendingTrade = append(batch, w.pendingTrade...)
		w.mu.Unlock()
	}
}

func (w *Writer) flushSnapshots(ctx context.Context) {
	w.mu.Lock()
	batch := w.pendingSnap
	w.pendingSnap = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	if err := w.snapshots.InsertBatch(ctx, batch); err != nil {
		w.logger.Error("snapshot batch insert failed, requeueing", "count", len(batch), "err", err)
		w.mu.Lock()
		w.pendingSnap = append(batch, w.pendingSnap...)
		w.mu.Unlock()
	}
}

func (w *Writer) flushStates(ctx context.Context) {
	w.mu.Lock()
	batch := w.pendingState
	w.pendingState = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	if err := w.states.InsertBatch(ctx, batch); err != nil {
		w.logger.Error("account state batch insert failed, requeueing", "count", len(batch), "err", err)
		w.mu.Lock()
		w.pendingState = append(batch, w.pendingState...)
		w.mu.Unlock()
	}
}
