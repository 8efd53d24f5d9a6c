// Package domain holds the entity types, value objects, and collaborator
// interfaces shared by every other package in the ingestion core.
package domain

import (
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// Program identifies which on-chain program produced an event or row.
type Program string

const (
	ProgramBondingCurve Program = "bonding_curve"
	ProgramAmmPool      Program = "amm_pool"
)

// TradeType is buy or sell from the trader's perspective.
type TradeType string

const (
	TradeTypeBuy  TradeType = "buy"
	TradeTypeSell TradeType = "sell"
)

// MintAddress is the base58-encoded, 32-byte public key that identifies a
// token on-chain.
type MintAddress string

// Validate checks that the address decodes to exactly 32 bytes. It does not
// check that the mint exists on-chain — that's a runtime property, not a
// syntactic one.
func (m MintAddress) Validate() error {
	raw, err := base58.Decode(string(m))
	if err != nil {
		return fmt.Errorf("mint address %q is not valid base58: %w", m, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("mint address %q decodes to %d bytes, want 32", m, len(raw))
	}
	return nil
}

func (m MintAddress) String() string { return string(m) }

// Signature is the base58-encoded transaction id on the target chain.
type Signature string

func (s Signature) Validate() error {
	if s == "" {
		return fmt.Errorf("signature is empty")
	}
	if _, err := base58.Decode(string(s)); err != nil {
		return fmt.Errorf("signature %q is not valid base58: %w", s, err)
	}
	return nil
}

func (s Signature) String() string { return string(s) }

// ReserveInfo is the value type used throughout PriceCalculator.
type ReserveInfo struct {
	SolReserves   uint64
	TokenReserves uint64
	IsVirtual     bool
}

// Token is the canonical, mutable view of a token's lifecycle.
type Token struct {
	MintAddress MintAddress

	Symbol   string
	Name     string
	URI      string
	Creator  string
	HasMeta  bool
	Supply   uint64
	BCKey    string

	FirstProgram   Program
	FirstSeenSlot  uint64
	FirstPriceSol  decimal.Decimal
	FirstPriceUsd  decimal.Decimal
	FirstMarketCap decimal.Decimal

	LatestPriceSol      decimal.Decimal
	LatestPriceUsd      decimal.Decimal
	LatestMarketCap     decimal.Decimal
	LatestSolReserves   uint64
	LatestTokenReserves uint64
	LatestProgress      decimal.Decimal
	LatestUpdateSlot    uint64

	CurrentProgram     Program
	GraduatedToAmm      bool
	AmmPoolAddress      string
	GraduationSignature string

	ThresholdCrossedAt *time.Time
	GraduationAt       *time.Time
	LastTradeAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Trade is an append-only row keyed by signature.
type Trade struct {
	Signature   Signature
	MintAddress MintAddress
	Program     Program
	TradeType   TradeType
	UserAddress string

	SolAmount   uint64
	TokenAmount uint64

	PriceSol    decimal.Decimal
	PriceUsd    decimal.Decimal
	MarketCapUsd decimal.Decimal
	VolumeUsd    decimal.Decimal

	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
	Progress             decimal.Decimal

	Slot      uint64
	BlockTime time.Time
}

// PriceSnapshot is a probabilistically sampled (mint, slot) price point.
type PriceSnapshot struct {
	MintAddress MintAddress
	Slot        uint64

	PriceSol     decimal.Decimal
	PriceUsd     decimal.Decimal
	MarketCapUsd decimal.Decimal

	SolReserves   uint64
	TokenReserves uint64
	Progress      decimal.Decimal

	CreatedAt time.Time
}

// AccountState is an append-only (mint, program, slot) reserve snapshot
// derived from an on-chain account decode.
type AccountState struct {
	MintAddress MintAddress
	Program     Program
	Slot        uint64

	SolReserves          uint64
	TokenReserves        uint64
	BondingCurveComplete bool

	CreatedAt time.Time
}

// TokenFilter narrows Token.FindByFilter queries.
type TokenFilter struct {
	Program         Program
	GraduatedToAmm  *bool
	MinMarketCapUsd *decimal.Decimal
}

// VolumeBucket is one row of a Trade.GetVolumeByPeriod result.
type VolumeBucket struct {
	BucketStart time.Time
	VolumeUsd   decimal.Decimal
	TradeCount  int
}

// TraderVolume is one row of a Trade.GetTopTraders result.
type TraderVolume struct {
	UserAddress string
	VolumeUsd   decimal.Decimal
	TradeCount  int
}

// TokenStatistics is the aggregate result of Token.GetStatistics.
type TokenStatistics struct {
	TotalTokens           int
	GraduatedTokens        int
	ThresholdCrossedTokens int
	MedianTimeToGraduation time.Duration
}
