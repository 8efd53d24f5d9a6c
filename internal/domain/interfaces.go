package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventBus is a synchronous, topic-addressed publish/subscribe point.
// Publish dispatches to every current subscriber on the caller's goroutine,
// in subscription order, recovering any subscriber panic so one bad handler
// can't take down the publisher.
type EventBus interface {
	Publish(topic string, payload any)
	Subscribe(topic string, handler func(payload any)) (unsubscribe func())
}

// StreamFrame is the normalized unit StreamClient delivers on Data, ahead of
// EventParser turning it into zero or more domain Events.
type StreamFrame struct {
	Slot        uint64
	Kind        string // "account" | "transaction" | "slot" | "ping"
	Signature   string // base58 transaction signature; set only for Kind=="transaction"
	AccountKey  string
	ProgramID   string
	Data        []byte
	InnerData   [][]byte
	BlockTime   int64
}

// StreamClient is the external collaborator contract for the upstream
// Geyser-shaped feed. Implementations must be safe for Subscribe to be
// called again after a Data/Error channel close, to support reconnection.
type StreamClient interface {
	Subscribe(ctx context.Context, req StreamSubscription) (data <-chan StreamFrame, errs <-chan error, err error)
	Close() error
}

// StreamSubscription describes what a StreamClient subscription should
// filter for. FromSlot, when non-zero, resumes a feed from a prior slot
// rather than starting at the current tip.
type StreamSubscription struct {
	AccountKeys []string
	ProgramIDs  []string
	FromSlot    uint64
}

// TokenRepository is the C9 collaborator for the tokens table.
type TokenRepository interface {
	Upsert(ctx context.Context, t *Token) error
	FindByMint(ctx context.Context, mint MintAddress) (*Token, error)
	FindByFilter(ctx context.Context, f TokenFilter, limit, offset int) ([]*Token, error)
	GetStatistics(ctx context.Context) (*TokenStatistics, error)
}

// TradeRepository is the C9 collaborator for the append-only trades table.
type TradeRepository interface {
	InsertBatch(ctx context.Context, trades []*Trade) error
	FindByMint(ctx context.Context, mint MintAddress, limit, offset int) ([]*Trade, error)
	GetRecentTrades(ctx context.Context, limit int) ([]*Trade, error)
	GetHighValueTrades(ctx context.Context, minVolumeUsd decimal.Decimal, limit int) ([]*Trade, error)
	GetVolumeByPeriod(ctx context.Context, start, end time.Time, bucket string) ([]VolumeBucket, error)
	GetTopTraders(ctx context.Context, limit int) ([]TraderVolume, error)
}

// PriceSnapshotRepository is the C9 collaborator for sampled price history.
type PriceSnapshotRepository interface {
	InsertBatch(ctx context.Context, snapshots []*PriceSnapshot) error
	FindByMint(ctx context.Context, mint MintAddress, since int64) ([]*PriceSnapshot, error)
}

// AccountStateRepository is the C9 collaborator for append-only account
// decode history.
type AccountStateRepository interface {
	InsertBatch(ctx context.Context, states []*AccountState) error
	FindLatest(ctx context.Context, mint MintAddress, program Program) (*AccountState, error)
}

// HotCache is the in-process token cache TradeHandler and the
// SpecializedMonitors read and update. A miss is treated as a mint not seen
// before; the repositories are not consulted.
type HotCache interface {
	Get(mint MintAddress) (*Token, bool)
	Set(t *Token)
	Evict(mint MintAddress)
}
