package parser

import (
	"encoding/binary"
	"testing"

	"github.com/pumpfun-ingest/core/internal/domain"
)

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func TestParseAccountUnrecognizedDiscriminatorYieldsNoEvents(t *testing.T) {
	p := New(nil)
	frame := domain.StreamFrame{Kind: "account", Data: make([]byte, 40)}
	events := p.Parse(frame)
	if len(events) != 0 {
		t.Fatalf("expected no events for unrecognized discriminator, got %d", len(events))
	}
}

func TestParseAccountBondingCurveUpdate(t *testing.T) {
	p := New(nil)

	data := append([]byte{}, discBondingCurveAccount[:]...)
	data = append(data, le64(30_000_000_000)...)  // virtual sol
	data = append(data, le64(1_073_000_000_000)...) // virtual token
	data = append(data, le64(1_000_000_000)...)   // real sol
	data = append(data, le64(500_000_000_000)...) // real token
	data = append(data, 0)                        // not complete

	frame := domain.StreamFrame{Kind: "account", AccountKey: "BCAccountKeyAbc123", Slot: 42, Data: data}
	events := p.Parse(frame)

	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	ev := events[0]
	if ev.Kind != domain.EventKindBCAccountUpdate {
		t.Fatalf("kind = %v, want %v", ev.Kind, domain.EventKindBCAccountUpdate)
	}
	if ev.BCAccountUpdate.VirtualSolReserves != 30_000_000_000 {
		t.Fatalf("virtual sol reserves = %d", ev.BCAccountUpdate.VirtualSolReserves)
	}
	if ev.BCAccountUpdate.Complete {
		t.Fatal("expected Complete = false")
	}
}

func TestParseTransactionUnrecognizedYieldsNoEvents(t *testing.T) {
	p := New(nil)
	frame := domain.StreamFrame{Kind: "transaction", Data: make([]byte, 16)}
	if events := p.Parse(frame); len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestParseTradeEventBCTrade(t *testing.T) {
	p := New(nil)

	mint := make([]byte, 32)
	mint[0] = 1
	user := make([]byte, 32)
	user[0] = 2

	data := append([]byte{}, discTradeEvent[:]...)
	data = append(data, mint...)
	data = append(data, user...)
	data = append(data, 1) // is_buy
	data = append(data, le64(1_000_000_000)...)
	data = append(data, le64(200_000_000_000)...)
	data = append(data, le64(31_000_000_000)...)
	data = append(data, le64(870_000_000_000)...)

	frame := domain.StreamFrame{Kind: "transaction", Slot: 100, Signature: "sig1", Data: data}
	events := p.Parse(frame)

	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	if events[0].Kind != domain.EventKindBCTrade {
		t.Fatalf("kind = %v, want %v", events[0].Kind, domain.EventKindBCTrade)
	}
	if events[0].BCTrade.TradeType != domain.TradeTypeBuy {
		t.Fatalf("trade type = %v, want buy", events[0].BCTrade.TradeType)
	}
	if events[0].BCTrade.Signature != "sig1" {
		t.Fatalf("signature = %q, want carried through from the frame", events[0].BCTrade.Signature)
	}
}

func TestParseTradeEventAMMTradeFromInnerTransfers(t *testing.T) {
	p := New(nil)

	mint := make([]byte, 32)
	user := make([]byte, 32)

	data := append([]byte{}, discTradeEvent[:]...)
	data = append(data, mint...)
	data = append(data, user...)
	data = append(data, 0) // is_buy = false -> sell
	data = append(data, le64(1_000_000_000)...)
	data = append(data, le64(200_000_000_000)...)
	data = append(data, le64(31_000_000_000)...)
	data = append(data, le64(870_000_000_000)...)

	solLeg := append(le64(500_000_000), 9)
	tokenLeg := append(le64(123_000_000), 6)

	frame := domain.StreamFrame{
		Kind:      "transaction",
		Slot:      101,
		Data:      data,
		InnerData: [][]byte{solLeg, tokenLeg},
	}
	events := p.Parse(frame)

	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	if events[0].Kind != domain.EventKindAMMTrade {
		t.Fatalf("kind = %v, want %v", events[0].Kind, domain.EventKindAMMTrade)
	}
	if events[0].AMMTrade.SolAmount != 500_000_000 {
		t.Fatalf("sol amount = %d, want 500_000_000", events[0].AMMTrade.SolAmount)
	}
	if events[0].AMMTrade.TokenAmount != 123_000_000 {
		t.Fatalf("token amount = %d, want 123_000_000", events[0].AMMTrade.TokenAmount)
	}
}

func TestParsePoolCreated(t *testing.T) {
	p := New(nil)

	mint := make([]byte, 32)
	pool := make([]byte, 32)
	creator := make([]byte, 32)

	data := append([]byte{}, discPoolCreatedEvent[:]...)
	data = append(data, mint...)
	data = append(data, pool...)
	data = append(data, creator...)
	data = append(data, le64(0)...)
	data = append(data, le64(1_000_000_000_000)...)

	frame := domain.StreamFrame{Kind: "transaction", Slot: 200, Data: data}
	events := p.Parse(frame)

	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	if events[0].Kind != domain.EventKindPoolCreated {
		t.Fatalf("kind = %v, want %v", events[0].Kind, domain.EventKindPoolCreated)
	}
	if events[0].PoolCreated.InitialTokenReserves != 1_000_000_000_000 {
		t.Fatalf("initial token reserves = %d", events[0].PoolCreated.InitialTokenReserves)
	}
}
