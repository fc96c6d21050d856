package trading

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Position is an open trade tracked by the position book.
type Position struct {
	Symbol       string
	Side         Side
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	EntryTime    time.Time
	StopPrice    *decimal.Decimal
	TargetPrice  *decimal.Decimal
	CurrentPrice decimal.Decimal
	LastUpdate   time.Time
	TradeID      int64
	MAE          decimal.Decimal
	MFE          decimal.Decimal
}

// UnrealizedPnL is (current-entry)*qty for Long, (entry-current)*qty for
// Short. Zero when CurrentPrice is unset (IsZero).
func (p Position) UnrealizedPnL() decimal.Decimal {
	if p.CurrentPrice.IsZero() {
		return decimal.Zero
	}
	if p.Side == SideShort {
		return p.EntryPrice.Sub(p.CurrentPrice).Mul(p.Quantity)
	}
	return p.CurrentPrice.Sub(p.EntryPrice).Mul(p.Quantity)
}

// UnrealizedPnLPct is UnrealizedPnL / (entry*qty) * 100, zero when entry is zero.
func (p Position) UnrealizedPnLPct() decimal.Decimal {
	denom := p.EntryPrice.Mul(p.Quantity)
	if denom.IsZero() {
		return decimal.Zero
	}
	return p.UnrealizedPnL().Div(denom).Mul(decimal.NewFromInt(100))
}

// CurrentRisk is (current-stop)*qty for Long when a stop is set, else 0;
// (stop-current)*qty for Short.
func (p Position) CurrentRisk() decimal.Decimal {
	if p.StopPrice == nil {
		return decimal.Zero
	}
	if p.Side == SideShort {
		return p.StopPrice.Sub(p.CurrentPrice).Mul(p.Quantity)
	}
	return p.CurrentPrice.Sub(*p.StopPrice).Mul(p.Quantity)
}
