// Package indicator exposes the narrow IndicatorEngine contract the trailing
// controller consumes, backed by the aggregator's own completed-bar history.
package indicator

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/pkg/trading"
)

// barSource is the subset of *aggregator.Aggregator this package depends on.
type barSource interface {
	ATR(symbol string, tf trading.Timeframe, period int) (decimal.Decimal, bool)
}

// Engine computes ATR from an Aggregator's own bar history. It never reaches
// out to a BarStore directly; the caller is expected to warm up the
// aggregator with historical bars first, matching the IndicatorEngine
// contract's "may return absent" semantics for insufficient history.
type Engine struct {
	bars barSource
}

// New constructs an Engine backed by bars.
func New(bars barSource) *Engine {
	return &Engine{bars: bars}
}

// ATR satisfies the trailing.IndicatorEngine contract.
func (e *Engine) ATR(ctx context.Context, symbol string, period int, tf trading.Timeframe) (decimal.Decimal, bool, error) {
	select {
	case <-ctx.Done():
		return decimal.Zero, false, ctx.Err()
	default:
	}
	val, ok := e.bars.ATR(symbol, tf, period)
	return val, ok, nil
}
