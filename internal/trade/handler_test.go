package trade

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pumpfun-ingest/core/internal/domain"
	"github.com/pumpfun-ingest/core/internal/eventbus"
	"github.com/pumpfun-ingest/core/internal/priceclc"
	"github.com/pumpfun-ingest/core/internal/storage/memory"
)

type fakeSink struct {
	mu     sync.Mutex
	trades []*domain.Trade
	tokens []*domain.Token
	states []*domain.AccountState
	snaps  []*domain.PriceSnapshot
}

func (f *fakeSink) EnqueueTrade(t *domain.Trade)               { f.mu.Lock(); defer f.mu.Unlock(); f.trades = append(f.trades, t) }
func (f *fakeSink) EnqueueToken(t *domain.Token)                { f.mu.Lock(); defer f.mu.Unlock(); f.tokens = append(f.tokens, t) }
func (f *fakeSink) EnqueueSnapshot(s *domain.PriceSnapshot)     { f.mu.Lock(); defer f.mu.Unlock(); f.snaps = append(f.snaps, s) }
func (f *fakeSink) EnqueueAccountState(s *domain.AccountState)  { f.mu.Lock(); defer f.mu.Unlock(); f.states = append(f.states, s) }

func (f *fakeSink) tradeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trades)
}

func newTestHandler(bcThreshold, ammThreshold float64, saveAll bool) (*Handler, *fakeSink, domain.EventBus) {
	bus := eventbus.New(nil)
	cache := memory.NewHotCache(time.Hour)
	sink := &fakeSink{}
	h := New(bus, cache, sink, bcThreshold, ammThreshold, saveAll, nil)
	return h, sink, bus
}

func TestHandleBCTradeBelowThresholdNotSaved(t *testing.T) {
	h, sink, _ := newTestHandler(8888, 1000, false)
	h.SetSolUsd(decimal.NewFromInt(180))

	tr := &domain.BCTrade{
		MintAddress:          domain.MintAddress("mint1"),
		TradeType:            domain.TradeTypeBuy,
		SolAmount:            1_000_000,
		TokenAmount:          1_000_000,
		VirtualSolReserves:   10_000_000_000, // 10 SOL against the curve's initial token float
		VirtualTokenReserves: 1_000_000_000,
		Slot:                 1,
		BlockTime:            time.Now(),
	}
	h.handleBCTrade(tr)

	if sink.tradeCount() != 0 {
		t.Fatalf("expected trade below threshold to be dropped, got %d", sink.tradeCount())
	}
}

// TestHandleBCTradeAboveThresholdSavedAndPublishesThreshold mirrors the BC
// discovery scenario (spec §8 scenario 1): 100 SOL / 1000 tokens virtual
// reserves at $180/SOL prices the token at $18,000 market cap, above the
// $8,888 default save threshold.
func TestHandleBCTradeAboveThresholdSavedAndPublishesThreshold(t *testing.T) {
	h, sink, bus := newTestHandler(8888, 1000, false)
	h.SetSolUsd(decimal.NewFromInt(180))

	var crossedEvents int
	bus.Subscribe(eventbus.TopicThresholdCrossed, func(payload any) { crossedEvents++ })

	tr := &domain.BCTrade{
		MintAddress:          domain.MintAddress("mint1"),
		TradeType:            domain.TradeTypeBuy,
		VirtualSolReserves:   100_000_000_000,
		VirtualTokenReserves: 1_000_000_000,
		Slot:                 1,
		BlockTime:            time.Now(),
	}
	h.handleBCTrade(tr)

	if sink.tradeCount() != 1 {
		t.Fatalf("expected one saved trade, got %d", sink.tradeCount())
	}
	if crossedEvents != 1 {
		t.Fatalf("expected threshold-crossed event exactly once, got %d", crossedEvents)
	}
	if sink.tokens[len(sink.tokens)-1].ThresholdCrossedAt == nil {
		t.Fatal("expected ThresholdCrossedAt to be set on the token")
	}
}

func TestHandleBCTradeSaveAllSavesRegardlessOfThreshold(t *testing.T) {
	h, sink, _ := newTestHandler(1_000_000_000, 1_000_000_000, true)

	tr := &domain.BCTrade{
		MintAddress:          domain.MintAddress("mint1"),
		VirtualSolReserves:   1_000_000,
		VirtualTokenReserves: 1_073_000_000_000_000,
		Slot:                 1,
		BlockTime:            time.Now(),
	}
	h.handleBCTrade(tr)

	if sink.tradeCount() != 1 {
		t.Fatalf("expected trade saved under SaveAllTokens, got %d", sink.tradeCount())
	}
}

func TestStaleGuardDropsDuplicateOrOlderSlot(t *testing.T) {
	h, sink, _ := newTestHandler(0.0, 0.0, true)

	mint := domain.MintAddress("mint1")
	mk := func(slot uint64) *domain.BCTrade {
		return &domain.BCTrade{
			MintAddress:          mint,
			VirtualSolReserves:   1_000_000,
			VirtualTokenReserves: 1_073_000_000_000_000,
			Slot:                 slot,
			BlockTime:            time.Now(),
		}
	}

	h.handleBCTrade(mk(10))
	h.handleBCTrade(mk(10)) // duplicate slot, should be dropped
	h.handleBCTrade(mk(5))  // older slot, should be dropped
	h.handleBCTrade(mk(11)) // newer slot, should go through

	if sink.tradeCount() != 2 {
		t.Fatalf("expected 2 trades through stale guard, got %d", sink.tradeCount())
	}
}

func TestHandlePoolCreatedMarksGraduationAndPublishes(t *testing.T) {
	h, sink, bus := newTestHandler(0.05, 0.0, false)

	var graduations int
	bus.Subscribe(eventbus.TopicTokenGraduated, func(payload any) { graduations++ })

	pc := &domain.PoolCreated{
		MintAddress: domain.MintAddress("mint1"),
		PoolAddress: "pool1",
		Creator:     "creator1",
		Signature:   domain.Signature("sig1"),
		Slot:        100,
		BlockTime:   time.Now(),
	}
	h.handlePoolCreated(pc)

	if graduations != 1 {
		t.Fatalf("expected one graduation event, got %d", graduations)
	}
	if len(sink.tokens) != 1 {
		t.Fatalf("expected token enqueued, got %d", len(sink.tokens))
	}
	tok := sink.tokens[0]
	if !tok.GraduatedToAmm || tok.CurrentProgram != domain.ProgramAmmPool {
		t.Fatalf("expected token marked graduated to amm, got %+v", tok)
	}
}

func TestUpdateTokenFromTradeDoesNotRevertGraduatedProgram(t *testing.T) {
	h, sink, _ := newTestHandler(0.05, 0.0, true)

	mint := domain.MintAddress("mint1")
	pc := &domain.PoolCreated{MintAddress: mint, PoolAddress: "pool1", Slot: 50, BlockTime: time.Now()}
	h.handlePoolCreated(pc)

	// A stray bonding-curve trade arrives after graduation; CurrentProgram
	// must stay AMM.
	tr := &domain.BCTrade{
		MintAddress:          mint,
		VirtualSolReserves:   1_000_000,
		VirtualTokenReserves: 1_073_000_000_000_000,
		Slot:                 51,
		BlockTime:            time.Now(),
	}
	h.handleBCTrade(tr)

	last := sink.tokens[len(sink.tokens)-1]
	if last.CurrentProgram != domain.ProgramAmmPool {
		t.Fatalf("expected CurrentProgram to remain amm_pool after graduation, got %v", last.CurrentProgram)
	}
}

func TestHandleBCTradePublishesBCTradeEvent(t *testing.T) {
	h, _, bus := newTestHandler(0.0, 0.0, true)
	h.SetSolUsd(decimal.NewFromInt(180))

	var got []domain.TradeEvent
	bus.Subscribe(eventbus.TopicBCTrade, func(payload any) {
		if ev, ok := payload.(domain.TradeEvent); ok {
			got = append(got, ev)
		}
	})

	tr := &domain.BCTrade{
		MintAddress:          domain.MintAddress("mint1"),
		VirtualSolReserves:   40_000_000_000,
		VirtualTokenReserves: 1_000_000_000,
		Slot:                 1,
		BlockTime:            time.Now(),
	}
	h.handleBCTrade(tr)

	if len(got) != 1 {
		t.Fatalf("expected exactly one bc.trade event, got %d", len(got))
	}
	if got[0].Trade == nil || got[0].Token == nil {
		t.Fatalf("expected both trade and token set, got %+v", got[0])
	}
	if got[0].Trade.MintAddress != tr.MintAddress {
		t.Fatalf("trade mint = %s, want %s", got[0].Trade.MintAddress, tr.MintAddress)
	}
}

func TestHandleAMMTradePublishesAMMTradeEvent(t *testing.T) {
	h, _, bus := newTestHandler(0.0, 0.0, true)
	h.SetSolUsd(decimal.NewFromInt(180))

	var got []domain.TradeEvent
	bus.Subscribe(eventbus.TopicAMMTrade, func(payload any) {
		if ev, ok := payload.(domain.TradeEvent); ok {
			got = append(got, ev)
		}
	})

	tr := &domain.AMMTrade{
		MintAddress:       domain.MintAddress("mint1"),
		PoolAddress:       "pool1",
		PoolSolReserves:   500_000_000_000,
		PoolTokenReserves: 100_000_000_000,
		Slot:              1,
		BlockTime:         time.Now(),
	}
	h.handleAMMTrade(tr)

	if len(got) != 1 {
		t.Fatalf("expected exactly one amm.trade event, got %d", len(got))
	}
	if got[0].Trade == nil || got[0].Token == nil {
		t.Fatalf("expected both trade and token set, got %+v", got[0])
	}
	if !got[0].Token.GraduatedToAmm {
		t.Fatalf("expected token marked graduated on an AMM trade, got %+v", got[0].Token)
	}
}

func TestPublishThresholdIfNewOnlyPublishesOnce(t *testing.T) {
	h, _, bus := newTestHandler(0.0, 0.0, true)

	var crossedEvents int
	bus.Subscribe(eventbus.TopicThresholdCrossed, func(payload any) { crossedEvents++ })

	mint := domain.MintAddress("mint1")
	h.publishThresholdIfNew(mint, decimal.NewFromInt(1), 1, time.Now(), true)
	h.publishThresholdIfNew(mint, decimal.NewFromInt(1), 2, time.Now(), true)

	if crossedEvents != 1 {
		t.Fatalf("expected threshold-crossed event exactly once across repeats, got %d", crossedEvents)
	}
}
