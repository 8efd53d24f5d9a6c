// Package monitors implements SpecializedMonitors (C8): two independent
// watchers that each own a dedicated upstream subscription rather than
// riding the general trade feed, so a burst of ordinary swap traffic never
// delays a graduation signal. Both decode frames with the same Parser the
// main trade path uses and persist through the same HotCache/Sink/EventBus
// collaborators as TradeHandler, via trade.Graduate.
package monitors

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pumpfun-ingest/core/internal/domain"
	"github.com/pumpfun-ingest/core/internal/eventbus"
	"github.com/pumpfun-ingest/core/internal/parser"
	"github.com/pumpfun-ingest/core/internal/trade"
)

// Reconnect backoff mirrors stream.Manager's classes (spec §4.2), applied
// here to a single dedicated connection instead of a pool.
const (
	baseBackoff        = 5 * time.Second
	maxBackoff          = 60 * time.Second
	rateLimitedBackoff  = 60 * time.Second
	fatalAuthBackoff    = 300 * time.Second

	seenTTL = 10 * time.Minute
)

// PoolCreationMonitor watches the AMM program for create_pool transactions
// and upserts the graduated token even if it was previously unknown to the
// cache and store (spec §4.7).
type PoolCreationMonitor struct {
	newClient func() domain.StreamClient
	programID string

	cache domain.HotCache
	sink  trade.Sink
	bus   domain.EventBus

	parser *parser.Parser
	seen   *seenSet
	logger *slog.Logger
}

func NewPoolCreationMonitor(newClient func() domain.StreamClient, ammProgramID string, cache domain.HotCache, sink trade.Sink, bus domain.EventBus, logger *slog.Logger) *PoolCreationMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolCreationMonitor{
		newClient: newClient,
		programID: ammProgramID,
		cache:     cache,
		sink:      sink,
		bus:       bus,
		parser:    parser.New(logger),
		seen:      newSeenSet(seenTTL),
		logger:    logger.With("component", "pool_creation_monitor"),
	}
}

// Run blocks, reconnecting under the §4.2 backoff classes, until ctx is
// cancelled.
func (m *PoolCreationMonitor) Run(ctx context.Context) error {
	sub := domain.StreamSubscription{ProgramIDs: []string{m.programID}}
	return runWithReconnect(ctx, m.newClient, sub, m.logger, m.onFrame)
}

func (m *PoolCreationMonitor) onFrame(frame domain.StreamFrame) {
	for _, ev := range m.parser.Parse(frame) {
		if ev.Kind != domain.EventKindPoolCreated || ev.PoolCreated == nil {
			continue
		}
		pc := ev.PoolCreated
		if !m.seen.MarkIfNew(string(pc.Signature)) {
			continue
		}
		m.logger.Info("pool created", "mint", pc.MintAddress, "pool", pc.PoolAddress, "signature", pc.Signature)
		trade.Graduate(m.cache, m.sink, m.bus, pc.MintAddress, pc.PoolAddress, pc.Signature, pc.Creator, pc.Slot, pc.BlockTime, "pool_creation")
	}
}

// BondingCurveCompletionMonitor watches accounts owned by the bonding-curve
// program for the `complete` flag flipping true, publishing
// bonding_curve.progress at 100% and graduating the token (spec §4.7).
type BondingCurveCompletionMonitor struct {
	newClient func() domain.StreamClient
	programID string

	cache domain.HotCache
	sink  trade.Sink
	bus   domain.EventBus

	parser *parser.Parser
	seen   *seenSet
	logger *slog.Logger
}

func NewBondingCurveCompletionMonitor(newClient func() domain.StreamClient, bcProgramID string, cache domain.HotCache, sink trade.Sink, bus domain.EventBus, logger *slog.Logger) *BondingCurveCompletionMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BondingCurveCompletionMonitor{
		newClient: newClient,
		programID: bcProgramID,
		cache:     cache,
		sink:      sink,
		bus:       bus,
		parser:    parser.New(logger),
		seen:      newSeenSet(seenTTL),
		logger:    logger.With("component", "bc_completion_monitor"),
	}
}

func (m *BondingCurveCompletionMonitor) Run(ctx context.Context) error {
	sub := domain.StreamSubscription{ProgramIDs: []string{m.programID}}
	return runWithReconnect(ctx, m.newClient, sub, m.logger, m.onFrame)
}

func (m *BondingCurveCompletionMonitor) onFrame(frame domain.StreamFrame) {
	for _, ev := range m.parser.Parse(frame) {
		if ev.Kind != domain.EventKindBCAccountUpdate || ev.BCAccountUpdate == nil {
			continue
		}
		u := ev.BCAccountUpdate
		if !u.Complete {
			continue
		}
		if !m.seen.MarkIfNew(u.BCKey) {
			continue
		}

		m.logger.Info("bonding curve complete", "mint", u.MintAddress, "bc_key", u.BCKey, "slot", u.Slot)
		m.bus.Publish(eventbus.TopicBondingCurveProgress, domain.PriceUpdate{
			MintAddress: u.MintAddress, Program: domain.ProgramBondingCurve, Progress: decimal.NewFromInt(1), Slot: u.Slot,
		})
		trade.Graduate(m.cache, m.sink, m.bus, u.MintAddress, "", "", "", u.Slot, time.Now(), "bc_account_complete")
	}
}

// runWithReconnect owns a single dedicated connection: it subscribes,
// forwards every frame to onFrame, and on disconnect reconnects under the
// same error-class backoff stream.Manager uses, without ever touching the
// general trade feed's connection pool.
func runWithReconnect(ctx context.Context, newClient func() domain.StreamClient, sub domain.StreamSubscription, logger *slog.Logger, onFrame func(domain.StreamFrame)) error {
	if newClient == nil {
		return nil
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		client := newClient()
		forceDelay, err := pumpOnce(ctx, client, sub, onFrame)
		client.Close()
		if err != nil {
			class, _ := domain.ClassOf(err)
			logger.Error("monitor connection dropped", "err", err, "class", class)
		} else {
			attempt = 0
		}

		attempt++
		delay := forceDelay
		if delay == 0 {
			delay = time.Duration(math.Min(
				float64(maxBackoff),
				float64(baseBackoff)*math.Pow(2, float64(attempt-1)),
			))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// pumpOnce runs a single connection's receive loop until it ends, returning
// any error-class-specific fixed delay the caller should force before the
// next reconnect attempt (zero means use the default exponential backoff).
func pumpOnce(ctx context.Context, client domain.StreamClient, sub domain.StreamSubscription, onFrame func(domain.StreamFrame)) (time.Duration, error) {
	data, errs, err := client.Subscribe(ctx, sub)
	if err != nil {
		return classForceDelay(err), err
	}

	for {
		select {
		case frame, ok := <-data:
			if !ok {
				return 0, nil
			}
			onFrame(frame)
		case err, ok := <-errs:
			if !ok {
				// Keep draining data until it closes too.
				errs = nil
				continue
			}
			return classForceDelay(err), err
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func classForceDelay(err error) time.Duration {
	class, ok := domain.ClassOf(err)
	if !ok {
		return 0
	}
	switch class {
	case domain.ClassUpstreamRateLimited:
		return rateLimitedBackoff
	case domain.ClassUpstreamFatalAuth:
		return fatalAuthBackoff
	default:
		return 0
	}
}
