// Package parser turns raw stream frames into typed domain events. Parsing
// does no I/O and keeps no state: given the same frame, Parse returns the
// same events, which is what makes it safe to fuzz and to run outside any
// live stream in tests. The one exception is a trade or pool-creation frame
// with no block time, whose event is stamped with the current wall-clock
// time.
package parser

import (
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/mr-tron/base58"

	"github.com/pumpfun-ingest/core/internal/domain"
)

// Discriminators are the first 8 bytes of account/instruction data, the
// convention Anchor-style Solana programs use to tag which struct follows.
// The exact byte values are program-specific; these are placeholders for
// the bonding-curve account layout and the two event layouts (trade, pool
// created) this feed cares about.
var (
	discBondingCurveAccount = [8]byte{0x17, 0xb7, 0xf3, 0x37, 0xd8, 0x29, 0x0a, 0x1c}
	discTradeEvent          = [8]byte{0xbd, 0xdb, 0x7f, 0xd3, 0x4e, 0xe6, 0x61, 0xee}
	discPoolCreatedEvent    = [8]byte{0x9a, 0x3e, 0x40, 0x5d, 0x0e, 0x33, 0x7a, 0x2f}
)

const bondingCurveAccountLen = 8 + 8*4 + 1 // discriminator + 4 uint64 reserves + complete flag

// Parser is the concrete EventParser (C4).
type Parser struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger.With("component", "parser")}
}

// Parse decodes a single stream frame into zero or more domain events. A
// frame that doesn't match any known layout yields zero events rather than
// an error: unrecognized account/instruction shapes are routine noise on a
// firehose feed, not a reason to interrupt the pipeline.
func (p *Parser) Parse(frame domain.StreamFrame) []domain.Event {
	switch frame.Kind {
	case "account":
		return p.parseAccount(frame)
	case "transaction":
		return p.parseTransaction(frame)
	default:
		return nil
	}
}

func (p *Parser) parseAccount(frame domain.StreamFrame) []domain.Event {
	if len(frame.Data) < 8 {
		return nil
	}
	var disc [8]byte
	copy(disc[:], frame.Data[:8])

	if disc != discBondingCurveAccount || len(frame.Data) < bondingCurveAccountLen {
		return nil
	}

	body := frame.Data[8:]
	virtualSol := binary.LittleEndian.Uint64(body[0:8])
	virtualToken := binary.LittleEndian.Uint64(body[8:16])
	realSol := binary.LittleEndian.Uint64(body[16:24])
	realToken := binary.LittleEndian.Uint64(body[24:32])
	complete := body[32] != 0

	if frame.AccountKey == "" {
		return nil
	}
	mint := domain.MintAddress(frame.AccountKey)

	return []domain.Event{{
		Kind: domain.EventKindBCAccountUpdate,
		Slot: frame.Slot,
		BCAccountUpdate: &domain.BCAccountUpdate{
			MintAddress:          mint,
			BCKey:                frame.AccountKey,
			VirtualSolReserves:   virtualSol,
			VirtualTokenReserves: virtualToken,
			RealSolReserves:      realSol,
			RealTokenReserves:    realToken,
			Complete:             complete,
			Slot:                 frame.Slot,
		},
	}}
}

func (p *Parser) parseTransaction(frame domain.StreamFrame) []domain.Event {
	if len(frame.Data) < 8 {
		return nil
	}
	var disc [8]byte
	copy(disc[:], frame.Data[:8])

	switch disc {
	case discTradeEvent:
		return p.parseTrade(frame)
	case discPoolCreatedEvent:
		return p.parsePoolCreated(frame)
	default:
		return nil
	}
}

// tradeEventLayout is discriminator(8) + mint(32) + user(32) + is_buy(1) +
// sol_amount(8) + token_amount(8) + virtual_sol(8) + virtual_token(8).
const tradeEventMinLen = 8 + 32 + 32 + 1 + 8 + 8 + 8 + 8

func (p *Parser) parseTrade(frame domain.StreamFrame) []domain.Event {
	if len(frame.Data) < tradeEventMinLen {
		return nil
	}
	b := frame.Data[8:]
	mint := base58.Encode(b[0:32])
	user := base58.Encode(b[32:64])
	isBuy := b[64] != 0
	solAmount := binary.LittleEndian.Uint64(b[65:73])
	tokenAmount := binary.LittleEndian.Uint64(b[73:81])
	virtualSol := binary.LittleEndian.Uint64(b[81:89])
	virtualToken := binary.LittleEndian.Uint64(b[89:97])

	tradeType := domain.TradeTypeSell
	if isBuy {
		tradeType = domain.TradeTypeBuy
	}

	blockTime := time.Unix(frame.BlockTime, 0)
	if frame.BlockTime == 0 {
		blockTime = time.Now()
	}

	// AMM trades carry their true transfer amounts only in the inner
	// transferChecked instructions appended after the outer instruction;
	// the outer instruction args are frequently pre-slippage estimates.
	if solFromInner, tokenFromInner, ok := reconstructFromInnerTransfers(frame.InnerData); ok {
		return []domain.Event{{
			Kind: domain.EventKindAMMTrade,
			Slot: frame.Slot,
			AMMTrade: &domain.AMMTrade{
				Signature:         domain.Signature(frame.Signature),
				MintAddress:       domain.MintAddress(mint),
				UserAddress:       user,
				TradeType:         tradeType,
				SolAmount:         solFromInner,
				TokenAmount:       tokenFromInner,
				PoolSolReserves:   virtualSol,
				PoolTokenReserves: virtualToken,
				Slot:              frame.Slot,
				BlockTime:         blockTime,
			},
		}}
	}

	return []domain.Event{{
		Kind: domain.EventKindBCTrade,
		Slot: frame.Slot,
		BCTrade: &domain.BCTrade{
			Signature:            domain.Signature(frame.Signature),
			MintAddress:          domain.MintAddress(mint),
			UserAddress:          user,
			TradeType:            tradeType,
			SolAmount:            solAmount,
			TokenAmount:          tokenAmount,
			VirtualSolReserves:   virtualSol,
			VirtualTokenReserves: virtualToken,
			Slot:                 frame.Slot,
			BlockTime:            blockTime,
		},
	}}
}

// reconstructFromInnerTransfers reads the SOL and token amounts of an AMM
// swap from the SPL transferChecked legs carried as its inner instructions.
// Each entry is amount(8) + decimals(1); a leg with 9 or more decimals is
// taken as the SOL side and any other as the token side, the last leg of
// each kind winning. ok is false unless both amounts are non-zero.
func reconstructFromInnerTransfers(inner [][]byte) (sol uint64, token uint64, ok bool) {
	if len(inner) < 2 {
		return 0, 0, false
	}
	for _, leg := range inner {
		if len(leg) < 9 {
			continue
		}
		amount := binary.LittleEndian.Uint64(leg[0:8])
		decimals := leg[8]
		if decimals >= 9 {
			sol = amount
		} else {
			token = amount
		}
	}
	return sol, token, sol > 0 && token > 0
}

const poolCreatedMinLen = 8 + 32 + 32 + 32 + 8 + 8

func (p *Parser) parsePoolCreated(frame domain.StreamFrame) []domain.Event {
	if len(frame.Data) < poolCreatedMinLen {
		return nil
	}
	b := frame.Data[8:]
	mint := base58.Encode(b[0:32])
	pool := base58.Encode(b[32:64])
	creator := base58.Encode(b[64:96])
	initSol := binary.LittleEndian.Uint64(b[96:104])
	initToken := binary.LittleEndian.Uint64(b[104:112])

	blockTime := time.Unix(frame.BlockTime, 0)
	if frame.BlockTime == 0 {
		blockTime = time.Now()
	}

	return []domain.Event{{
		Kind: domain.EventKindPoolCreated,
		Slot: frame.Slot,
		PoolCreated: &domain.PoolCreated{
			Signature:            domain.Signature(frame.Signature),
			MintAddress:          domain.MintAddress(mint),
			PoolAddress:          pool,
			Creator:              creator,
			InitialSolReserves:   initSol,
			InitialTokenReserves: initToken,
			Slot:                 frame.Slot,
			BlockTime:            blockTime,
		},
	}}
}
