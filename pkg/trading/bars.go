package trading

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceBar is an immutable OHLCV record delivered by a broker session.
type SourceBar struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Complete  bool
}

// Validate checks the OHLC invariants: low <= min(open,close) <= max(open,close) <= high
// and volume >= 0.
func (b SourceBar) Validate() bool {
	if b.Volume.IsNegative() {
		return false
	}
	lo := decimal.Min(b.Open, b.Close)
	hi := decimal.Max(b.Open, b.Close)
	if b.Low.GreaterThan(lo) {
		return false
	}
	if hi.GreaterThan(b.High) {
		return false
	}
	return true
}

// AggregatedBar is a bar built from one or more SourceBars at a target
// timeframe. Identified by (Symbol, Timeframe, BarStart).
type AggregatedBar struct {
	Symbol         string
	Timeframe      Timeframe
	BarStart       time.Time
	Open           decimal.Decimal
	High           decimal.Decimal
	Low            decimal.Decimal
	Close          decimal.Decimal
	Volume         decimal.Decimal
	SourceBarCount int
	Complete       bool
}
