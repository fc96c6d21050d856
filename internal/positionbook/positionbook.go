// Package positionbook tracks open positions and their live mark-to-market.
package positionbook

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/tradeerr"
	"github.com/atlas-desktop/trading-backend/pkg/trading"
)

// Journal is the durable collaborator the book records entries/exits into.
// internal/journal.Journal satisfies this interface.
type Journal interface {
	RecordEntry(ctx context.Context, symbol string, side trading.Side, qty, entryPrice decimal.Decimal,
		entryTime time.Time, stopPrice, targetPrice *decimal.Decimal, riskAmount decimal.Decimal,
		sabr20Score *decimal.Decimal, regime string) (int64, error)
	RecordExit(ctx context.Context, tradeID int64, exitTime time.Time, exitPrice decimal.Decimal,
		reason trading.ExitReason, commission decimal.Decimal, notes string) (trading.TradeRecord, error)
	UpdateMAEMFE(ctx context.Context, tradeID int64, mae, mfe decimal.Decimal) error
}

const recentClosedCacheSize = 512

// PositionBook is the in-memory registry of open positions.
type PositionBook struct {
	logger  *zap.Logger
	journal Journal

	mu       sync.RWMutex
	open     map[string]*trading.Position
	recent   []trading.TradeRecord // recently closed, for fast rollup
	closedN  int
	winningN int
	losingN  int
}

// New constructs a PositionBook backed by journal.
func New(logger *zap.Logger, journal Journal) *PositionBook {
	return &PositionBook{
		logger:  logger,
		journal: journal,
		open:    make(map[string]*trading.Position),
	}
}

// OpenPosition opens a new position for symbol, recording the entry in the
// journal. Fails with DuplicatePosition if symbol already has an open
// position. Open is atomic: either both the book and the journal reflect it,
// or neither does.
func (b *PositionBook) OpenPosition(ctx context.Context, symbol string, side trading.Side, qty, entryPrice decimal.Decimal,
	entryTime time.Time, stopPrice, targetPrice *decimal.Decimal, riskAmount decimal.Decimal,
	sabr20Score *decimal.Decimal, regime string) (int64, error) {

	if side != trading.SideLong && side != trading.SideShort {
		return 0, tradeerr.InvalidSide(symbol, "side must be long or short")
	}
	if !qty.IsPositive() {
		return 0, tradeerr.InvalidQuantity(symbol, "quantity must be positive")
	}
	if !entryPrice.IsPositive() {
		return 0, tradeerr.InvalidPrice(symbol, "entry price must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.open[symbol]; exists {
		return 0, tradeerr.DuplicatePosition(symbol)
	}

	tradeID, err := b.journal.RecordEntry(ctx, symbol, side, qty, entryPrice, entryTime, stopPrice, targetPrice, riskAmount, sabr20Score, regime)
	if err != nil {
		return 0, err
	}

	b.open[symbol] = &trading.Position{
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		EntryPrice:  entryPrice,
		EntryTime:   entryTime,
		StopPrice:   stopPrice,
		TargetPrice: targetPrice,
		LastUpdate:  entryTime,
		TradeID:     tradeID,
	}

	return tradeID, nil
}

// ClosePosition closes symbol's open position, recording the exit in the
// journal and removing it from the open set.
func (b *PositionBook) ClosePosition(ctx context.Context, symbol string, exitPrice decimal.Decimal, exitTime time.Time,
	reason trading.ExitReason, commission decimal.Decimal, notes string) (trading.TradeRecord, error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.open[symbol]
	if !ok {
		return trading.TradeRecord{}, tradeerr.UnknownPosition(symbol)
	}

	record, err := b.journal.RecordExit(ctx, pos.TradeID, exitTime, exitPrice, reason, commission, notes)
	if err != nil {
		return trading.TradeRecord{}, err
	}

	delete(b.open, symbol)
	b.recordClosed(record)

	return record, nil
}

func (b *PositionBook) recordClosed(record trading.TradeRecord) {
	b.closedN++
	if record.RealizedPnL != nil {
		if record.RealizedPnL.IsPositive() {
			b.winningN++
		} else if record.RealizedPnL.IsNegative() {
			b.losingN++
		}
	}
	b.recent = append(b.recent, record)
	if len(b.recent) > recentClosedCacheSize {
		b.recent = b.recent[len(b.recent)-recentClosedCacheSize:]
	}
}

// UpdatePrice updates symbol's current price and MAE/MFE. Silent no-op if
// symbol is not open. Older ticks (by ts) than the position's LastUpdate are
// dropped.
func (b *PositionBook) UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) {
	b.mu.Lock()
	pos, ok := b.open[symbol]
	if !ok {
		b.mu.Unlock()
		return
	}
	if !pos.LastUpdate.IsZero() && ts.Before(pos.LastUpdate) {
		b.mu.Unlock()
		return
	}

	pos.CurrentPrice = price
	pos.LastUpdate = ts
	pnl := pos.UnrealizedPnL()
	pos.MAE = decimal.Min(pos.MAE, pnl)
	pos.MFE = decimal.Max(pos.MFE, pnl)
	tradeID := pos.TradeID
	mae, mfe := pos.MAE, pos.MFE
	b.mu.Unlock()

	if b.journal != nil {
		if err := b.journal.UpdateMAEMFE(ctx, tradeID, mae, mfe); err != nil && b.logger != nil {
			b.logger.Warn("failed to propagate MAE/MFE to journal", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// ModifyStop accepts a new stop iff it is strictly favorable-monotonic:
// for Long, new > current (or current unset); for Short, new < current (or
// unset). A rejection is not an error; it returns false.
func (b *PositionBook) ModifyStop(symbol string, newStop decimal.Decimal) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.open[symbol]
	if !ok {
		return false
	}

	if pos.StopPrice != nil {
		if pos.Side == trading.SideLong && !newStop.GreaterThan(*pos.StopPrice) {
			return false
		}
		if pos.Side == trading.SideShort && !newStop.LessThan(*pos.StopPrice) {
			return false
		}
	}

	stop := newStop
	pos.StopPrice = &stop
	return true
}

// Position returns a read-only snapshot copy of symbol's open position.
func (b *PositionBook) Position(symbol string) (trading.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.open[symbol]
	if !ok {
		return trading.Position{}, false
	}
	return *pos, true
}

// ListOpen returns a snapshot copy of every currently open position.
func (b *PositionBook) ListOpen() []trading.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]trading.Position, 0, len(b.open))
	for _, pos := range b.open {
		out = append(out, *pos)
	}
	return out
}

// PortfolioRollup summarizes the open and recently-closed position set.
func (b *PositionBook) PortfolioRollup() trading.PortfolioStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := trading.PortfolioStats{
		PositionsCount:    len(b.open),
		ClosedTradesCount: b.closedN,
		WinningTrades:     b.winningN,
		LosingTrades:      b.losingN,
	}

	for _, pos := range b.open {
		pnl := pos.UnrealizedPnL()
		stats.UnrealizedPnL = stats.UnrealizedPnL.Add(pnl)
		switch {
		case pnl.IsPositive():
			stats.WinningPositions++
		case pnl.IsNegative():
			stats.LosingPositions++
		}
	}

	for _, rec := range b.recent {
		if rec.RealizedPnL != nil {
			stats.RealizedPnL = stats.RealizedPnL.Add(*rec.RealizedPnL)
		}
	}

	stats.TotalPnL = stats.RealizedPnL.Add(stats.UnrealizedPnL)
	return stats
}
