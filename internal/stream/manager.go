// Package stream implements StreamManager: a pool of upstream connections
// that fans normalized frames out to the event bus, reconnecting individual
// pool members on failure without dropping the rest of the pool.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pumpfun-ingest/core/internal/domain"
	"github.com/pumpfun-ingest/core/internal/eventbus"
)

// backoff bounds. A rate-limited or auth-rejected connection waits at a
// fixed interval instead of escalating, since retrying faster never helps
// either of those error classes.
const (
	baseBackoff          = 5 * time.Second
	maxBackoff           = 60 * time.Second
	rateLimitedBackoff   = 60 * time.Second
	fatalAuthBackoff     = 300 * time.Second
	minResubscribeGap    = 2 * time.Second

	// rebalanceThreshold is how far, in registration count, the busiest
	// healthy connection may run ahead of the least-loaded one before a
	// health check migrates keys off it.
	rebalanceThreshold = 3
)

// Role orders the monitor types that register account keys with the pool.
// Lower values are higher priority: a rebalance moves account-watcher keys
// before it ever touches a bonding-curve or pool registration.
type Role int

const (
	RoleBondingCurve Role = iota
	RoleAMMPool
	RoleExternalAMM
	RoleAccountWatch
)

// connState tracks one pooled upstream connection.
type connState struct {
	id      int
	client  domain.StreamClient
	mu      sync.Mutex
	keys    map[string]Role // account keys currently routed to this connection, by registering role
	healthy     bool
	attempt     int
	forceDelay  time.Duration
}

// Manager is the concrete StreamManager (C3). It owns a fixed-size pool of
// domain.StreamClient connections, each independently reconnected, and
// publishes every frame it receives onto eventbus.TopicStreamData.
type Manager struct {
	bus    domain.EventBus
	logger *slog.Logger

	newClient func() domain.StreamClient

	mu          sync.RWMutex
	conns       []*connState
	keyToConn   map[string]int
	lastSub     time.Time

	healthCheckEvery time.Duration
}

// NewManager builds a pool of size poolSize, each backed by a fresh
// domain.StreamClient produced by newClient. newClient is a factory rather
// than a single shared instance because every pool member reconnects on its
// own schedule and must not share underlying gRPC connections.
func NewManager(poolSize int, newClient func() domain.StreamClient, bus domain.EventBus, healthCheckEvery time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if poolSize < 1 {
		poolSize = 1
	}

	conns := make([]*connState, poolSize)
	for i := range conns {
		conns[i] = &connState{id: i, keys: make(map[string]Role)}
	}

	return &Manager{
		bus:              bus,
		logger:           logger.With("component", "stream_manager"),
		newClient:        newClient,
		conns:            conns,
		keyToConn:        make(map[string]int),
		healthCheckEvery: healthCheckEvery,
	}
}

// Run connects every pool member and blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, programIDs []string) error {
	var wg sync.WaitGroup
	for _, c := range m.conns {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runConn(ctx, c, programIDs)
		}()
	}
	if m.healthCheckEvery > 0 && len(m.conns) > 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runHealthChecks(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// runHealthChecks periodically migrates keys off any connection that has
// drifted more than rebalanceThreshold registrations ahead of the
// least-loaded healthy member of the pool.
func (m *Manager) runHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(m.healthCheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.rebalance()
		}
	}
}

// rebalance moves the lowest-priority keys off the busiest healthy
// connection onto the least-loaded one until the gap between them falls to
// rebalanceThreshold or below. It never touches an unhealthy connection as a
// source, since redistribute already drains those on failure.
func (m *Manager) rebalance() {
	for {
		m.mu.Lock()
		busiest, idlest := m.busiestAndIdlestLocked()
		if busiest == nil || idlest == nil || busiest == idlest {
			m.mu.Unlock()
			return
		}

		busiest.mu.Lock()
		idlest.mu.Lock()
		gap := len(busiest.keys) - len(idlest.keys)
		if gap <= rebalanceThreshold {
			idlest.mu.Unlock()
			busiest.mu.Unlock()
			m.mu.Unlock()
			return
		}

		key, role := lowestPriorityKeyLocked(busiest.keys)
		delete(busiest.keys, key)
		idlest.keys[key] = role
		idlest.mu.Unlock()
		busiest.mu.Unlock()

		m.keyToConn[key] = idlest.id
		m.mu.Unlock()

		m.logger.Info("rebalanced account key", "key", key, "role", role, "from_conn", busiest.id, "to_conn", idlest.id)
	}
}

// busiestAndIdlestLocked must be called with m.mu held. It considers only
// healthy connections, so a draining or reconnecting member is never chosen
// as either end of a migration.
func (m *Manager) busiestAndIdlestLocked() (busiest, idlest *connState) {
	busiestLoad, idlestLoad := -1, -1
	for _, c := range m.conns {
		c.mu.Lock()
		load := len(c.keys)
		healthy := c.healthy
		c.mu.Unlock()
		if !healthy {
			continue
		}
		if busiestLoad == -1 || load > busiestLoad {
			busiest = c
			busiestLoad = load
		}
		if idlestLoad == -1 || load < idlestLoad {
			idlest = c
			idlestLoad = load
		}
	}
	return busiest, idlest
}

// lowestPriorityKeyLocked picks an account-watcher-tier key when one exists,
// falling back to whichever key has the lowest registering priority
// (highest Role value), so bonding-curve and pool registrations are the last
// thing a rebalance ever moves.
func lowestPriorityKeyLocked(keys map[string]Role) (string, Role) {
	var pickKey string
	var pickRole Role = -1
	for k, r := range keys {
		if pickRole == -1 || r > pickRole {
			pickKey, pickRole = k, r
		}
	}
	return pickKey, pickRole
}

func (m *Manager) runConn(ctx context.Context, c *connState, programIDs []string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.connectAndPump(ctx, c, programIDs); err != nil {
			class, _ := domain.ClassOf(err)
			m.logger.Error("connection dropped", "conn_id", c.id, "err", err, "class", class)
		}

		c.mu.Lock()
		c.healthy = false
		c.attempt++
		delay := c.forceDelay
		c.forceDelay = 0
		if delay == 0 {
			delay = time.Duration(math.Min(
				float64(maxBackoff),
				float64(baseBackoff)*math.Pow(2, float64(c.attempt-1)),
			))
		}
		c.mu.Unlock()
		m.redistribute(c)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) connectAndPump(ctx context.Context, c *connState, programIDs []string) error {
	if m.newClient == nil {
		return fmt.Errorf("no client factory configured")
	}

	m.throttleResubscribe()

	client := m.newClient()
	c.mu.Lock()
	c.client = client
	keys := keysOf(c.keys)
	c.mu.Unlock()

	data, errs, err := client.Subscribe(ctx, domain.StreamSubscription{
		AccountKeys: keys,
		ProgramIDs:  programIDs,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.healthy = true
	c.attempt = 0
	c.mu.Unlock()
	m.bus.Publish(eventbus.TopicStreamConnected, c.id)

	for {
		select {
		case frame, ok := <-data:
			if !ok {
				return nil
			}
			m.bus.Publish(eventbus.TopicStreamData, frame)
		case err, ok := <-errs:
			if !ok {
				// Keep draining data until it closes too.
				errs = nil
				continue
			}
			m.bus.Publish(eventbus.TopicStreamDisconnected, c.id)
			if class, ok := domain.ClassOf(err); ok {
				c.mu.Lock()
				switch class {
				case domain.ClassUpstreamRateLimited:
					c.forceDelay = rateLimitedBackoff
				case domain.ClassUpstreamFatalAuth:
					c.forceDelay = fatalAuthBackoff
				}
				c.mu.Unlock()
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) throttleResubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	wait := minResubscribeGap - time.Since(m.lastSub)
	m.lastSub = time.Now()
	if wait > 0 {
		time.Sleep(wait)
	}
}

// AssignKeys adds accountKeys to the least-loaded healthy connection in the
// pool under role and records the assignment for future reconnects.
func (m *Manager) AssignKeys(accountKeys []string, role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range accountKeys {
		if _, exists := m.keyToConn[key]; exists {
			continue
		}
		target := m.leastLoadedLocked()
		target.mu.Lock()
		target.keys[key] = role
		target.mu.Unlock()
		m.keyToConn[key] = target.id
	}
}

func (m *Manager) leastLoadedLocked() *connState {
	var best *connState
	bestLoad := -1
	for _, c := range m.conns {
		c.mu.Lock()
		load := len(c.keys)
		healthy := c.healthy
		c.mu.Unlock()
		if !healthy {
			continue
		}
		if bestLoad == -1 || load < bestLoad {
			best = c
			bestLoad = load
		}
	}
	if best == nil {
		return m.conns[0]
	}
	return best
}

// redistribute moves every account key owned by a now-unhealthy connection
// onto the remaining healthy members of the pool, preserving each key's
// registering role, so a single dropped connection loses no subscriptions,
// only momentary freshness on them.
func (m *Manager) redistribute(failed *connState) {
	failed.mu.Lock()
	keys := failed.keys
	failed.keys = make(map[string]Role)
	failed.mu.Unlock()

	if len(keys) == 0 {
		return
	}

	m.mu.Lock()
	for k := range keys {
		delete(m.keyToConn, k)
	}
	m.mu.Unlock()

	byRole := make(map[Role][]string)
	for k, r := range keys {
		byRole[r] = append(byRole[r], k)
	}
	for r, ks := range byRole {
		m.AssignKeys(ks, r)
	}
}

func keysOf(m map[string]Role) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
