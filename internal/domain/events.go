package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind tags the concrete type carried by an Event so subscribers can
// switch on it without a type assertion chain.
type EventKind string

const (
	EventKindBCTrade         EventKind = "bc_trade"
	EventKindAMMTrade        EventKind = "amm_trade"
	EventKindBCAccountUpdate EventKind = "bc_account_update"
	EventKindPoolCreated     EventKind = "pool_created"
)

// Event is the parsed unit EventParser emits onto the "events.parsed" topic.
// Exactly one of the payload fields is non-nil, matching Kind.
type Event struct {
	Kind EventKind
	Slot uint64

	BCTrade         *BCTrade
	AMMTrade        *AMMTrade
	BCAccountUpdate *BCAccountUpdate
	PoolCreated     *PoolCreated
}

// BCTrade is a buy/sell against a bonding curve, decoded from a transaction.
type BCTrade struct {
	Signature   Signature
	MintAddress MintAddress
	UserAddress string
	TradeType   TradeType

	SolAmount   uint64
	TokenAmount uint64

	VirtualSolReserves   uint64
	VirtualTokenReserves uint64

	Slot      uint64
	BlockTime time.Time
}

// AMMTrade is a buy/sell against a graduated AMM pool. SolAmount and
// TokenAmount are reconstructed from the transaction's inner transferChecked
// instructions, not the outer instruction args.
type AMMTrade struct {
	Signature   Signature
	MintAddress MintAddress
	PoolAddress string
	UserAddress string
	TradeType   TradeType

	SolAmount   uint64
	TokenAmount uint64

	PoolSolReserves   uint64
	PoolTokenReserves uint64

	Slot      uint64
	BlockTime time.Time
}

// BCAccountUpdate is a raw account-data decode of a bonding curve account,
// delivered independently of any particular trade transaction.
type BCAccountUpdate struct {
	MintAddress MintAddress
	BCKey       string

	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
	RealSolReserves      uint64
	RealTokenReserves    uint64
	Complete             bool

	Slot uint64
}

// PoolCreated marks a bonding curve's graduation into a standalone AMM pool.
type PoolCreated struct {
	Signature   Signature
	MintAddress MintAddress
	PoolAddress string
	Creator     string

	InitialSolReserves   uint64
	InitialTokenReserves uint64

	Slot      uint64
	BlockTime time.Time
}

// PriceUpdate is published on "price.updated" whenever TradeHandler commits
// a new latest price for a token.
type PriceUpdate struct {
	MintAddress  MintAddress
	Program      Program
	PriceSol     decimal.Decimal
	PriceUsd     decimal.Decimal
	MarketCapUsd decimal.Decimal
	Progress     decimal.Decimal
	Slot         uint64
}

// GraduationEvent is published on "token.graduated" the first time any
// graduation signal is observed for a mint. Method records which signal
// triggered the transition, since pool creation, a bonding-curve account
// flipping its complete flag, and a straight AMM trade against a
// previously BC-only mint are each sufficient on their own.
type GraduationEvent struct {
	MintAddress MintAddress
	PoolAddress string
	Signature   Signature
	Slot        uint64
	At          time.Time
	Method      string // "pool_creation" | "bc_account_complete" | "amm_trade"
}

// ThresholdCrossedEvent is published on "token.threshold_crossed" the first
// time a token's USD market cap reaches the configured save threshold.
type ThresholdCrossedEvent struct {
	MintAddress  MintAddress
	MarketCapUsd decimal.Decimal
	Slot         uint64
	At           time.Time
}

// TokenDiscoveredEvent is published on "token.discovered" when a trade is
// processed for a mint that is not in the hot cache. The store is not
// consulted, so a mint whose cache entry was evicted is reported again on
// its next trade.
type TokenDiscoveredEvent struct {
	MintAddress MintAddress
	Program     Program
	Slot        uint64
	At          time.Time
}

// TradeEvent is published on "bc.trade" or "amm.trade" for every processed
// trade, carrying both the trade row and the token's post-trade view so the
// WebSocket fan-out can serve a single message without a second lookup.
type TradeEvent struct {
	Trade *Trade
	Token *Token
}
