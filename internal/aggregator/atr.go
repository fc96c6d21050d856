package aggregator

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/pkg/trading"
)

// ATR computes the Average True Range over the last period+1 completed bars
// for symbol/timeframe: the simple mean of the last period true ranges, which
// is Wilder's starting ATR value. No Wilder smoothing over older bars is
// applied. Returns ok=false when fewer than period+1 bars are available,
// matching IndicatorEngine.atr's "may return absent" contract.
func (a *Aggregator) ATR(symbol string, tf trading.Timeframe, period int) (decimal.Decimal, bool) {
	bars := a.CompletedBars(symbol, tf, period+1)
	if len(bars) < period+1 {
		return decimal.Zero, false
	}

	trueRanges := make([]decimal.Decimal, 0, period)
	for i := 1; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		hi := bars[i].High
		lo := bars[i].Low
		tr := hi.Sub(lo)
		if d := hi.Sub(prevClose).Abs(); d.GreaterThan(tr) {
			tr = d
		}
		if d := lo.Sub(prevClose).Abs(); d.GreaterThan(tr) {
			tr = d
		}
		trueRanges = append(trueRanges, tr)
	}

	sum := decimal.Zero
	for _, tr := range trueRanges {
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(len(trueRanges)))), true
}
