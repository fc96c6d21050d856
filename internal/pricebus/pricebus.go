// Package pricebus is the glue between bar completion and the position/
// trailing subsystems: §2's "PriceBus" box in the data-flow diagram.
package pricebus

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/trading"
)

// PositionBook is the collaborator notified of price updates.
type PositionBook interface {
	UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time)
	Position(symbol string) (trading.Position, bool)
}

// TrailingController is the collaborator evaluated after every price update.
type TrailingController interface {
	Evaluate(ctx context.Context, symbol string, currentPrice decimal.Decimal) (old, newStop decimal.Decimal, adjusted bool)
}

// PriceBus fans a completed bar's close price out to the position book and,
// for symbols with an open position, the trailing controller.
type PriceBus struct {
	logger    *zap.Logger
	positions PositionBook
	trailing  TrailingController
}

// New constructs a PriceBus.
func New(logger *zap.Logger, positions PositionBook, trailing TrailingController) *PriceBus {
	return &PriceBus{logger: logger, positions: positions, trailing: trailing}
}

// Publish is registered as the Aggregator's OnBarComplete callback, filtered
// by the caller to the smallest configured target timeframe. Errors from
// either collaborator are logged and never propagated, matching the
// callback-failure-isolation rule applied throughout this codebase.
func (p *PriceBus) Publish(symbol string, price decimal.Decimal, ts time.Time) {
	ctx := context.Background()

	p.positions.UpdatePrice(ctx, symbol, price, ts)

	if _, exists := p.positions.Position(symbol); !exists {
		return
	}

	if old, newStop, adjusted := p.trailing.Evaluate(ctx, symbol, price); adjusted {
		if p.logger != nil {
			p.logger.Info("trailing stop adjusted",
				zap.String("symbol", symbol),
				zap.String("old_stop", old.String()),
				zap.String("new_stop", newStop.String()))
		}
	}
}
