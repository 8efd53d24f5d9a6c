// Package trade implements TradeHandler: the component that turns parsed
// events into Token/Trade/PriceSnapshot/AccountState rows, applying the
// stale-update rule to every event and the save thresholds to trade rows
// before they reach storage. Token rows, sampled price snapshots and
// account states are enqueued whatever a token's market cap.
package trade

import (
	"context"
	"log/slog"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pumpfun-ingest/core/internal/domain"
	"github.com/pumpfun-ingest/core/internal/eventbus"
	"github.com/pumpfun-ingest/core/internal/priceclc"
)

// Price-snapshot sampling thresholds (spec §4.6): the higher a token's
// market cap, the more of its trades get a persisted price point, since
// high-cap tokens are both rarer and more interesting to chart densely.
var (
	snapshotAlwaysCap = decimal.NewFromInt(100_000)
	snapshotHalfCap   = decimal.NewFromInt(50_000)
	snapshotFifthCap  = decimal.NewFromInt(20_000)
)

// Sink is what TradeHandler hands finished rows to. BatchWriter implements
// this; tests can substitute an in-memory fake.
type Sink interface {
	EnqueueTrade(t *domain.Trade)
	EnqueueToken(t *domain.Token)
	EnqueueSnapshot(s *domain.PriceSnapshot)
	EnqueueAccountState(s *domain.AccountState)
}

// Handler is the concrete TradeHandler (C6).
type Handler struct {
	bus    domain.EventBus
	cache  domain.HotCache
	sink   Sink
	logger *slog.Logger

	bcThreshold  decimal.Decimal
	ammThreshold decimal.Decimal
	saveAll      bool

	mu         sync.RWMutex
	latestSlot map[domain.MintAddress]uint64
	solUsd     decimal.Decimal
}

func New(bus domain.EventBus, cache domain.HotCache, sink Sink, bcThreshold, ammThreshold float64, saveAll bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		bus:          bus,
		cache:        cache,
		sink:         sink,
		logger:       logger.With("component", "trade_handler"),
		bcThreshold:  decimal.NewFromFloat(bcThreshold),
		ammThreshold: decimal.NewFromFloat(ammThreshold),
		saveAll:      saveAll,
		latestSlot:   make(map[domain.MintAddress]uint64),
		solUsd:       decimal.Zero,
	}
}

// Start subscribes the handler to events.parsed and the reference SOL/USD
// feed. The returned unsubscribe func tears down both subscriptions.
func (h *Handler) Start(refPrices <-chan decimal.Decimal) func() {
	unsub := h.bus.Subscribe(eventbus.TopicEventsParsed, h.onEvent)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case rate, ok := <-refPrices:
				if !ok {
					return
				}
				h.mu.Lock()
				h.solUsd = rate
				h.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()

	return func() {
		unsub()
		close(stop)
	}
}

func (h *Handler) onEvent(payload any) {
	ev, ok := payload.(domain.Event)
	if !ok {
		return
	}
	switch ev.Kind {
	case domain.EventKindBCTrade:
		h.handleBCTrade(ev.BCTrade)
	case domain.EventKindAMMTrade:
		h.handleAMMTrade(ev.AMMTrade)
	case domain.EventKindBCAccountUpdate:
		h.handleAccountUpdate(ev.BCAccountUpdate)
	case domain.EventKindPoolCreated:
		h.handlePoolCreated(ev.PoolCreated)
	}
}

func (h *Handler) currentSolUsd() decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.solUsd
}

// SetSolUsd overrides the reference SOL/USD rate used by subsequent price
// calculations, bypassing the refPrices channel Start wires up. Exported
// for tests and for callers that poll a price source on their own cadence
// instead of pushing it down a channel.
func (h *Handler) SetSolUsd(rate decimal.Decimal) {
	h.mu.Lock()
	h.solUsd = rate
	h.mu.Unlock()
}

// staleGuard reports whether slot is not newer than the last slot recorded
// for mint, in which case the caller should drop the update: the upstream
// resume window can redeliver slots the handler has already applied.
func (h *Handler) staleGuard(mint domain.MintAddress, slot uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if last, ok := h.latestSlot[mint]; ok && slot <= last {
		return true
	}
	h.latestSlot[mint] = slot
	return false
}

// shouldSampleSnapshot decides, per spec §4.6, whether a processed trade at
// the given market cap gets a persisted price_snapshots_unified row: always
// above $100k, 50% above $50k, 20% above $20k, else 10%.
func shouldSampleSnapshot(marketCap decimal.Decimal) bool {
	switch {
	case marketCap.GreaterThanOrEqual(snapshotAlwaysCap):
		return true
	case marketCap.GreaterThanOrEqual(snapshotHalfCap):
		return rand.Float64() < 0.5
	case marketCap.GreaterThanOrEqual(snapshotFifthCap):
		return rand.Float64() < 0.2
	default:
		return rand.Float64() < 0.1
	}
}

func (h *Handler) maybeEnqueueSnapshot(mint domain.MintAddress, priceSol, priceUsd, marketCap decimal.Decimal, solReserves, tokenReserves, slot uint64, progress decimal.Decimal, at time.Time) {
	if !shouldSampleSnapshot(marketCap) {
		return
	}
	h.sink.EnqueueSnapshot(&domain.PriceSnapshot{
		MintAddress:   mint,
		Slot:          slot,
		PriceSol:      priceSol,
		PriceUsd:      priceUsd,
		MarketCapUsd:  marketCap,
		SolReserves:   solReserves,
		TokenReserves: tokenReserves,
		Progress:      progress,
		CreatedAt:     at,
	})
}

func (h *Handler) handleBCTrade(tr *domain.BCTrade) {
	if tr == nil || h.staleGuard(tr.MintAddress, tr.Slot) {
		return
	}

	reserves := domain.ReserveInfo{SolReserves: tr.VirtualSolReserves, TokenReserves: tr.VirtualTokenReserves, IsVirtual: true}
	priceSol := priceclc.PriceSol(reserves)
	solUsd := h.currentSolUsd()
	priceUsd := priceclc.PriceUsd(priceSol, solUsd)
	marketCap := priceclc.BondingCurveMarketCapUsd(priceUsd)
	progress := priceclc.ProgressFromVirtualReserves(tr.VirtualSolReserves)

	trade := &domain.Trade{
		Signature:            tr.Signature,
		MintAddress:          tr.MintAddress,
		Program:              domain.ProgramBondingCurve,
		TradeType:            tr.TradeType,
		UserAddress:          tr.UserAddress,
		SolAmount:            tr.SolAmount,
		TokenAmount:          tr.TokenAmount,
		PriceSol:             priceSol,
		PriceUsd:             priceUsd,
		MarketCapUsd:         marketCap,
		VolumeUsd:            priceUsd.Mul(decimal.NewFromBigInt(new(big.Int).SetUint64(tr.TokenAmount), -6)),
		VirtualSolReserves:   tr.VirtualSolReserves,
		VirtualTokenReserves: tr.VirtualTokenReserves,
		Progress:             progress,
		Slot:                 tr.Slot,
		BlockTime:            tr.BlockTime,
	}

	crossed := marketCap.GreaterThanOrEqual(h.bcThreshold)
	if h.saveAll || crossed {
		h.sink.EnqueueTrade(trade)
	}
	h.maybeEnqueueSnapshot(tr.MintAddress, priceSol, priceUsd, marketCap, tr.VirtualSolReserves, tr.VirtualTokenReserves, tr.Slot, progress, tr.BlockTime)

	// The token is created (and token.discovered published) before the
	// threshold check, so a mint's first trade can do both.
	tok := h.updateTokenFromTrade(tr.MintAddress, domain.ProgramBondingCurve, trade)
	h.publishThresholdIfNew(tr.MintAddress, marketCap, tr.Slot, tr.BlockTime, crossed)
	h.bus.Publish(eventbus.TopicBCTrade, domain.TradeEvent{Trade: trade, Token: tok})
	h.bus.Publish(eventbus.TopicPriceUpdated, domain.PriceUpdate{
		MintAddress: tr.MintAddress, Program: domain.ProgramBondingCurve,
		PriceSol: priceSol, PriceUsd: priceUsd, MarketCapUsd: marketCap, Progress: progress, Slot: tr.Slot,
	})
}

func (h *Handler) handleAMMTrade(tr *domain.AMMTrade) {
	if tr == nil || h.staleGuard(tr.MintAddress, tr.Slot) {
		return
	}

	reserves := domain.ReserveInfo{SolReserves: tr.PoolSolReserves, TokenReserves: tr.PoolTokenReserves}
	priceSol := priceclc.PriceSol(reserves)
	solUsd := h.currentSolUsd()
	priceUsd := priceclc.PriceUsd(priceSol, solUsd)
	marketCap := priceclc.AMMMarketCapUsd(priceUsd, tr.PoolTokenReserves)

	trade := &domain.Trade{
		Signature:            tr.Signature,
		MintAddress:          tr.MintAddress,
		Program:              domain.ProgramAmmPool,
		TradeType:            tr.TradeType,
		UserAddress:          tr.UserAddress,
		SolAmount:            tr.SolAmount,
		TokenAmount:          tr.TokenAmount,
		PriceSol:             priceSol,
		PriceUsd:             priceUsd,
		MarketCapUsd:         marketCap,
		VolumeUsd:            priceUsd.Mul(decimal.NewFromBigInt(new(big.Int).SetUint64(tr.TokenAmount), -6)),
		VirtualSolReserves:   tr.PoolSolReserves,
		VirtualTokenReserves: tr.PoolTokenReserves,
		Progress:             decimal.NewFromInt(1),
		Slot:                 tr.Slot,
		BlockTime:            tr.BlockTime,
	}

	if h.saveAll || marketCap.GreaterThanOrEqual(h.ammThreshold) {
		h.sink.EnqueueTrade(trade)
	}
	h.maybeEnqueueSnapshot(tr.MintAddress, priceSol, priceUsd, marketCap, tr.PoolSolReserves, tr.PoolTokenReserves, tr.Slot, trade.Progress, tr.BlockTime)

	tok := h.updateTokenFromTrade(tr.MintAddress, domain.ProgramAmmPool, trade)
	// An AMM trade against this mint is itself sufficient proof of
	// graduation, independent of whether a PoolCreated or bonding-curve
	// complete signal was ever observed for it (see state machine, spec
	// §4.5); markGraduated is a no-op if graduation was already recorded.
	h.markGraduated(tr.MintAddress, tr.PoolAddress, tr.Signature, "", tr.Slot, tr.BlockTime, "amm_trade")
	h.bus.Publish(eventbus.TopicAMMTrade, domain.TradeEvent{Trade: trade, Token: tok})
	h.bus.Publish(eventbus.TopicPriceUpdated, domain.PriceUpdate{
		MintAddress: tr.MintAddress, Program: domain.ProgramAmmPool,
		PriceSol: priceSol, PriceUsd: priceUsd, MarketCapUsd: marketCap, Progress: trade.Progress, Slot: tr.Slot,
	})
}

func (h *Handler) handleAccountUpdate(u *domain.BCAccountUpdate) {
	if u == nil || h.staleGuard(u.MintAddress, u.Slot) {
		return
	}

	state := &domain.AccountState{
		MintAddress:          u.MintAddress,
		Program:              domain.ProgramBondingCurve,
		Slot:                 u.Slot,
		SolReserves:          u.RealSolReserves,
		TokenReserves:        u.RealTokenReserves,
		BondingCurveComplete: u.Complete,
	}
	h.sink.EnqueueAccountState(state)

	progress := priceclc.Progress(u.RealSolReserves)
	if u.Complete {
		progress = decimal.NewFromInt(1)
	}
	h.bus.Publish(eventbus.TopicBondingCurveProgress, domain.PriceUpdate{
		MintAddress: u.MintAddress, Program: domain.ProgramBondingCurve, Progress: progress, Slot: u.Slot,
	})

	if u.Complete {
		h.markGraduated(u.MintAddress, "", "", "", u.Slot, time.Now(), "bc_account_complete")
	}
}

func (h *Handler) handlePoolCreated(pc *domain.PoolCreated) {
	if pc == nil {
		return
	}
	h.markGraduated(pc.MintAddress, pc.PoolAddress, pc.Signature, pc.Creator, pc.Slot, pc.BlockTime, "pool_creation")
}

// markGraduated flips a token's lifecycle state to graduated the first
// time any of the three independent graduation signals (PoolCreated,
// BCAccountComplete, or an AMM trade) is observed for its mint; later
// signals for the same mint are no-ops, so a duplicate or out-of-order
// redelivery never re-publishes token.graduated.
func (h *Handler) markGraduated(mint domain.MintAddress, poolAddress string, signature domain.Signature, creator string, slot uint64, at time.Time, method string) {
	Graduate(h.cache, h.sink, h.bus, mint, poolAddress, signature, creator, slot, at, method)
}

// Graduate is the shared graduation-merge routine behind TradeHandler's own
// AMM-trade signal and SpecializedMonitors' independently-detected
// pool-creation and bonding-curve-completion signals (spec §4.5's three
// sufficient triggers). It is idempotent per mint via Token.GraduatedToAmm,
// so whichever of the three signals arrives first wins and the other two
// become no-ops.
func Graduate(cache domain.HotCache, sink Sink, bus domain.EventBus, mint domain.MintAddress, poolAddress string, signature domain.Signature, creator string, slot uint64, at time.Time, method string) {
	tok, ok := cache.Get(mint)
	if !ok {
		tok = &domain.Token{MintAddress: mint, FirstSeenSlot: slot, FirstProgram: domain.ProgramBondingCurve}
	}
	if tok.GraduatedToAmm {
		return
	}

	tok.GraduatedToAmm = true
	tok.CurrentProgram = domain.ProgramAmmPool
	if poolAddress != "" {
		tok.AmmPoolAddress = poolAddress
	}
	if signature != "" {
		tok.GraduationSignature = string(signature)
	}
	if creator != "" {
		tok.Creator = creator
	}
	tok.GraduationAt = &at
	tok.UpdatedAt = time.Now()

	cache.Set(tok)
	sink.EnqueueToken(tok)

	bus.Publish(eventbus.TopicTokenGraduated, domain.GraduationEvent{
		MintAddress: mint,
		PoolAddress: tok.AmmPoolAddress,
		Signature:   domain.Signature(tok.GraduationSignature),
		Slot:        slot,
		At:          at,
		Method:      method,
	})
}

// publishThresholdIfNew sets ThresholdCrossedAt to blockTime (the block
// time of the trade that crossed it, per the invariant that the field
// equals the earliest qualifying trade's block time, not wall-clock time
// of processing) and emits token.threshold_crossed exactly once per mint.
func (h *Handler) publishThresholdIfNew(mint domain.MintAddress, marketCap decimal.Decimal, slot uint64, blockTime time.Time, crossed bool) {
	if !crossed {
		return
	}
	tok, ok := h.cache.Get(mint)
	if ok && tok.ThresholdCrossedAt != nil {
		return
	}
	if tok == nil {
		tok = &domain.Token{MintAddress: mint}
	}
	tok.ThresholdCrossedAt = &blockTime
	h.cache.Set(tok)

	h.bus.Publish(eventbus.TopicThresholdCrossed, domain.ThresholdCrossedEvent{
		MintAddress: mint, MarketCapUsd: marketCap, Slot: slot, At: blockTime,
	})
}

func (h *Handler) updateTokenFromTrade(mint domain.MintAddress, program domain.Program, t *domain.Trade) *domain.Token {
	tok, ok := h.cache.Get(mint)
	discovered := !ok
	if !ok {
		tok = &domain.Token{
			MintAddress:    mint,
			FirstProgram:   program,
			FirstSeenSlot:  t.Slot,
			FirstPriceSol:  t.PriceSol,
			FirstPriceUsd:  t.PriceUsd,
			FirstMarketCap: t.MarketCapUsd,
			CurrentProgram: program,
		}
	}
	tok.LatestPriceSol = t.PriceSol
	tok.LatestPriceUsd = t.PriceUsd
	tok.LatestMarketCap = t.MarketCapUsd
	tok.LatestSolReserves = t.VirtualSolReserves
	tok.LatestTokenReserves = t.VirtualTokenReserves
	tok.LatestProgress = t.Progress
	tok.LatestUpdateSlot = t.Slot
	if !tok.GraduatedToAmm {
		tok.CurrentProgram = program
	}
	now := t.BlockTime
	tok.LastTradeAt = &now
	tok.UpdatedAt = time.Now()

	h.cache.Set(tok)
	h.sink.EnqueueToken(tok)

	if discovered {
		h.bus.Publish(eventbus.TopicTokenDiscovered, domain.TokenDiscoveredEvent{
			MintAddress: mint, Program: program, Slot: t.Slot, At: t.BlockTime,
		})
	}
	return tok
}

// Run blocks until ctx is cancelled, existing only so main can treat the
// handler like the other long-running components in a select/errgroup.
func (h *Handler) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
