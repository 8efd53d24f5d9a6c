// Package priceclc turns raw on-chain reserves into USD-denominated price
// and market-cap figures. Every function here is pure: no I/O, no state,
// so TradeHandler and the monitors can call it straight off an event.
package priceclc

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/pumpfun-ingest/core/internal/domain"
)

// BondingCurveTotalSupply is the fixed token supply minted for every
// bonding curve at creation, counted in base units at tokenDecimals (6);
// BondingCurveMarketCapUsd scales it down by tokenDecimals before
// multiplying by the USD price. Circulating supply on the curve side is this
// constant minus whatever the curve itself still holds, which is why BC
// market cap uses total supply directly rather than a derived circulating
// figure.
const BondingCurveTotalSupply uint64 = 1_000_000_000

// BondingCurveGraduationSol is the real SOL reserves level, in whole SOL,
// at which a bonding curve is considered complete and ready to graduate
// into an AMM pool. The upstream program emits its own completion flag on
// the account; this constant is used only for progress-percentage display
// and as a sanity cross-check against that flag.
const BondingCurveGraduationSol uint64 = 84

const solDecimals = 9
const tokenDecimals = 6

// InitialVirtualSolReserves is the virtual SOL reserve every bonding curve
// starts at before any trade. A trade only ever reports the curve's current
// virtual reserves, so the SOL actually contributed since creation — the
// figure Progress wants — is the difference between the two.
const InitialVirtualSolReserves uint64 = 30_000_000_000

// PriceSol returns the spot price of one token in SOL, given the curve's
// (or pool's) current virtual/real reserves. Computed in decimal only at
// this final step — the reserves themselves stay uint64 all the way
// through parsing so intermediate math never loses lamport precision.
func PriceSol(reserves domain.ReserveInfo) decimal.Decimal {
	if reserves.TokenReserves == 0 {
		return decimal.Zero
	}
	sol := decimal.NewFromBigInt(new(big.Int).SetUint64(reserves.SolReserves), -solDecimals)
	tokens := decimal.NewFromBigInt(new(big.Int).SetUint64(reserves.TokenReserves), -tokenDecimals)
	return sol.Div(tokens)
}

// PriceUsd converts a SOL-denominated price into USD using the current
// SOL/USD reference rate.
func PriceUsd(priceSol, solUsdRate decimal.Decimal) decimal.Decimal {
	return priceSol.Mul(solUsdRate)
}

// BondingCurveMarketCapUsd values a bonding-curve-stage token against the
// full fixed supply, since none of it is locked in the curve in a way that
// should be excluded from market cap.
func BondingCurveMarketCapUsd(priceUsd decimal.Decimal) decimal.Decimal {
	supply := decimal.NewFromBigInt(new(big.Int).SetUint64(BondingCurveTotalSupply), -tokenDecimals)
	return priceUsd.Mul(supply)
}

// AMMMarketCapUsd values a graduated token against the pool's own token
// reserves as the circulating supply, per the platform convention: once a
// curve graduates, the AMM pool holds the entire tradable float, and using
// the mint's total supply instead (which still includes locked/unminted
// allocations) inflates market cap by 3x-10x.
func AMMMarketCapUsd(priceUsd decimal.Decimal, poolTokenReserves uint64) decimal.Decimal {
	circulating := decimal.NewFromBigInt(new(big.Int).SetUint64(poolTokenReserves), -tokenDecimals)
	return priceUsd.Mul(circulating)
}

// Progress returns how far along a bonding curve is toward graduation, as
// a fraction in [0, 1], based on real SOL reserves collected so far.
func Progress(realSolReserves uint64) decimal.Decimal {
	target := decimal.NewFromInt(int64(BondingCurveGraduationSol))
	have := decimal.NewFromBigInt(new(big.Int).SetUint64(realSolReserves), -solDecimals)
	if have.GreaterThanOrEqual(target) {
		return decimal.NewFromInt(1)
	}
	return have.Div(target)
}

// ProgressFromVirtualReserves derives Progress from a trade's reported
// virtual SOL reserves when no on-chain account balance is available,
// subtracting the curve's starting reserve so progress reads near 0% right
// after creation instead of starting inflated by the initial virtual float.
func ProgressFromVirtualReserves(virtualSolReserves uint64) decimal.Decimal {
	if virtualSolReserves <= InitialVirtualSolReserves {
		return decimal.Zero
	}
	return Progress(virtualSolReserves - InitialVirtualSolReserves)
}
