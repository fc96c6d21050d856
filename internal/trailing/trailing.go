// Package trailing implements the per-symbol trailing-stop state machine.
package trailing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/trading"
)

// oneBasisPoint is the minimum-improvement threshold (0.01%) a candidate
// stop must clear to be proposed, keeping the audit log clean. The
// authoritative monotonicity invariant still lives in PositionBook.ModifyStop.
var oneBasisPoint = decimal.NewFromFloat(0.0001)

// PositionSource is the read/write surface the controller needs into the
// position book. internal/positionbook.PositionBook satisfies this.
type PositionSource interface {
	Position(symbol string) (trading.Position, bool)
	ModifyStop(symbol string, newStop decimal.Decimal) bool
}

// Journal is the audit collaborator notified of accepted stop changes.
type Journal interface {
	UpdateStop(ctx context.Context, tradeID int64, newStop decimal.Decimal) error
}

// IndicatorEngine supplies ATR for ATR-based trails.
type IndicatorEngine interface {
	ATR(ctx context.Context, symbol string, period int, tf trading.Timeframe) (decimal.Decimal, bool, error)
}

// Controller is the trailing-stop state machine, one TrailingConfig per symbol.
type Controller struct {
	logger    *zap.Logger
	positions PositionSource
	journal   Journal
	indicator IndicatorEngine

	mu          sync.Mutex
	configs     map[string]*trading.TrailingConfig
	history     map[string][]trading.StopAdjustment
	atrWarnings map[string]bool
}

// New constructs a Controller.
func New(logger *zap.Logger, positions PositionSource, journal Journal, indicator IndicatorEngine) *Controller {
	return &Controller{
		logger:      logger,
		positions:   positions,
		journal:     journal,
		indicator:   indicator,
		configs:     make(map[string]*trading.TrailingConfig),
		history:     make(map[string][]trading.StopAdjustment),
		atrWarnings: make(map[string]bool),
	}
}

// Enable validates and installs a trailing configuration for symbol. Invalid
// input is logged and refused, never raised: the contract is "nothing is
// enabled," not "error raised."
func (c *Controller) Enable(symbol string, typ trading.TrailingType, amount, activationProfitPct, minTrailPct decimal.Decimal) {
	if typ != trading.TrailingPercentage && typ != trading.TrailingATR {
		c.logWarn(symbol, "invalid trailing type, refusing to enable", zap.String("type", string(typ)))
		return
	}
	if !amount.IsPositive() {
		c.logWarn(symbol, "trailing amount must be positive, refusing to enable")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[symbol] = &trading.TrailingConfig{
		Symbol:              symbol,
		Type:                typ,
		TrailingAmount:      amount,
		ActivationProfitPct: activationProfitPct,
		MinTrailPct:         minTrailPct,
		Enabled:             true,
		State:               trading.TrailingArmed,
	}
}

// Disable retires symbol's trailing configuration, keeping its audit history.
func (c *Controller) Disable(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg, ok := c.configs[symbol]; ok {
		cfg.Enabled = false
		cfg.State = trading.TrailingRetired
	}
}

func (c *Controller) logWarn(symbol, msg string, fields ...zap.Field) {
	if c.logger == nil {
		return
	}
	fields = append(fields, zap.String("symbol", symbol))
	c.logger.Warn(msg, fields...)
}

// Evaluate runs the trailing algorithm for symbol at current_price and
// returns the (old, new) stop pair if a stop was accepted.
func (c *Controller) Evaluate(ctx context.Context, symbol string, currentPrice decimal.Decimal) (old, newStop decimal.Decimal, adjusted bool) {
	pos, exists := c.positions.Position(symbol)

	c.mu.Lock()
	cfg, ok := c.configs[symbol]
	if !ok || !cfg.Enabled {
		c.mu.Unlock()
		return decimal.Zero, decimal.Zero, false
	}

	if !exists {
		cfg.State = trading.TrailingRetired
		cfg.Enabled = false
		c.mu.Unlock()
		return decimal.Zero, decimal.Zero, false
	}

	profitPct := pos.UnrealizedPnLPct()

	if cfg.State == trading.TrailingArmed {
		if profitPct.LessThan(cfg.ActivationProfitPct) {
			c.mu.Unlock()
			return decimal.Zero, decimal.Zero, false
		}
		cfg.State = trading.TrailingActive
		cfg.Activated = true
		cfg.ActivationPrice = currentPrice
		cfg.ActivationTime = time.Now()
		hw, lw := currentPrice, currentPrice
		if pos.Side == trading.SideLong {
			cfg.HighWater = &hw
		} else {
			cfg.LowWater = &lw
		}
	}

	if cfg.State != trading.TrailingActive {
		c.mu.Unlock()
		return decimal.Zero, decimal.Zero, false
	}

	if pos.Side == trading.SideLong {
		if cfg.HighWater == nil || currentPrice.GreaterThan(*cfg.HighWater) {
			hw := currentPrice
			if cfg.HighWater != nil && cfg.HighWater.GreaterThan(currentPrice) {
				hw = *cfg.HighWater
			}
			cfg.HighWater = &hw
		}
	} else {
		if cfg.LowWater == nil || currentPrice.LessThan(*cfg.LowWater) {
			lw := currentPrice
			if cfg.LowWater != nil && cfg.LowWater.LessThan(currentPrice) {
				lw = *cfg.LowWater
			}
			cfg.LowWater = &lw
		}
	}

	trailPct := c.trailPct(ctx, cfg, symbol, currentPrice)
	if trailPct.LessThan(cfg.MinTrailPct) {
		trailPct = cfg.MinTrailPct
	}

	var candidate decimal.Decimal
	if pos.Side == trading.SideLong {
		candidate = cfg.HighWater.Mul(decimal.NewFromInt(1).Sub(trailPct))
	} else {
		candidate = cfg.LowWater.Mul(decimal.NewFromInt(1).Add(trailPct))
	}

	currentStop := pos.StopPrice
	if !c.clearsImprovementThreshold(pos.Side, currentStop, candidate) {
		c.mu.Unlock()
		return decimal.Zero, decimal.Zero, false
	}

	tradeID := pos.TradeID
	c.mu.Unlock()

	accepted := c.positions.ModifyStop(symbol, candidate)
	if !accepted {
		return decimal.Zero, decimal.Zero, false
	}

	c.mu.Lock()
	var oldStop decimal.Decimal
	if currentStop != nil {
		oldStop = *currentStop
	}
	cfg.AdjustmentCount++
	cfg.LastAdjustmentTime = time.Now()
	adj := trading.StopAdjustment{
		Symbol:                symbol,
		Timestamp:             time.Now(),
		OldStop:               currentStop,
		NewStop:                candidate,
		TriggerPrice:          currentPrice,
		TrailingType:          cfg.Type,
		TrailingAmount:        cfg.TrailingAmount,
		ProfitPctAtAdjustment: profitPct,
	}
	c.history[symbol] = append(c.history[symbol], adj)
	c.mu.Unlock()

	if c.journal != nil {
		if err := c.journal.UpdateStop(ctx, tradeID, candidate); err != nil && c.logger != nil {
			c.logger.Warn("failed to notify journal of stop update", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	return oldStop, candidate, true
}

// clearsImprovementThreshold reports whether candidate is at least one basis
// point better than current in the favorable direction (or no stop exists yet).
func (c *Controller) clearsImprovementThreshold(side trading.Side, current *decimal.Decimal, candidate decimal.Decimal) bool {
	if current == nil {
		return true
	}
	minDelta := current.Abs().Mul(oneBasisPoint)
	if side == trading.SideLong {
		return candidate.Sub(*current).GreaterThanOrEqual(minDelta)
	}
	return current.Sub(candidate).GreaterThanOrEqual(minDelta)
}

// trailPct computes the fractional trail distance for cfg. Must be called
// with c.mu held.
func (c *Controller) trailPct(ctx context.Context, cfg *trading.TrailingConfig, symbol string, currentPrice decimal.Decimal) decimal.Decimal {
	if cfg.Type == trading.TrailingPercentage {
		return cfg.TrailingAmount.Div(decimal.NewFromInt(100))
	}

	if c.indicator != nil {
		atr, ok, err := c.indicator.ATR(ctx, symbol, 14, trading.Timeframe1h)
		if err == nil && ok && !currentPrice.IsZero() {
			return atr.Mul(cfg.TrailingAmount).Div(currentPrice)
		}
	}

	if !c.atrWarnings[symbol] {
		c.atrWarnings[symbol] = true
		c.logWarn(symbol, "ATR unavailable, falling back to percentage trailing")
	}
	return cfg.TrailingAmount.Div(decimal.NewFromInt(100))
}

// CheckAndUpdateAll iterates all enabled configs and evaluates each against
// its position's current price. This is the scheduled 60-second entry point.
func (c *Controller) CheckAndUpdateAll(ctx context.Context) []trading.StopAdjustment {
	c.mu.Lock()
	symbols := make([]string, 0, len(c.configs))
	for sym, cfg := range c.configs {
		if cfg.Enabled {
			symbols = append(symbols, sym)
		}
	}
	c.mu.Unlock()

	var adjustments []trading.StopAdjustment
	for _, sym := range symbols {
		pos, ok := c.positions.Position(sym)
		if !ok {
			c.mu.Lock()
			if cfg, ok := c.configs[sym]; ok {
				cfg.State = trading.TrailingRetired
				cfg.Enabled = false
			}
			c.mu.Unlock()
			continue
		}
		if old, newStop, adjusted := c.Evaluate(ctx, sym, pos.CurrentPrice); adjusted {
			adjustments = append(adjustments, trading.StopAdjustment{
				Symbol:  sym,
				OldStop: &old,
				NewStop: newStop,
			})
		}
	}
	return adjustments
}

// GetTrailingStatus returns a copy of symbol's config, if any.
func (c *Controller) GetTrailingStatus(symbol string) (trading.TrailingConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.configs[symbol]
	if !ok {
		return trading.TrailingConfig{}, false
	}
	return *cfg, true
}

// GetAdjustmentHistory returns the last limit accepted adjustments for symbol.
func (c *Controller) GetAdjustmentHistory(symbol string, limit int) []trading.StopAdjustment {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := c.history[symbol]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]trading.StopAdjustment, limit)
	copy(out, all[len(all)-limit:])
	return out
}
